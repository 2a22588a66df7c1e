package app

import (
	"context"
	"log"
	"strings"
	"time"

	"civicdesk/api/internal/analytics"
	"civicdesk/api/internal/auth"
	"civicdesk/api/internal/authpw"
	"civicdesk/api/internal/config"
	"civicdesk/api/internal/export"
	"civicdesk/api/internal/media"
	"civicdesk/api/internal/rbac"
	"civicdesk/api/internal/refdata"
	"civicdesk/api/internal/search"
	"civicdesk/api/internal/store"
	"civicdesk/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type SubmitIssueInput struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	State         string   `json:"state"`
	City          string   `json:"city"`
	Location      string   `json:"location"`
	CategoryID    string   `json:"categoryId"`
	Priority      string   `json:"priority"`
	ReporterName  string   `json:"reporterName"`
	ReporterPhone string   `json:"reporterPhone"`
	MediaRefs     []string `json:"mediaRefs"`
}

type AssignIssueInput struct {
	AdminIDs []string `json:"adminIds"`
	Note     string   `json:"note"`
}

type ResolveIssueInput struct {
	Notes    string `json:"notes"`
	ProofRef string `json:"proofRef"`
}

type dataStore interface {
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CountUsers(context.Context) (int, error)

	EnsureCategory(context.Context, string) error
	ListCategories(context.Context) ([]store.Category, error)
	CategoryExists(context.Context, string) (bool, error)

	CreateIssue(context.Context, store.Issue) error
	GetIssue(context.Context, string, string) (store.Issue, error)
	ListIssues(context.Context, store.IssueFilter, string) ([]store.Issue, error)
	AssignIssue(context.Context, string, []string, string, string) ([]store.Assignment, error)
	ResolveIssue(context.Context, string, string, string, string) error
	ListAssignments(context.Context, string) ([]store.Assignment, error)
	ToggleUpvote(context.Context, string, string) (store.VoteResult, error)

	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// refreshStore is satisfied by both the Redis session store and the
// PostgreSQL fallback in the store package.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexIssue(rec search.IssueRecord)
}

type analyticsService interface {
	Overview(ctx context.Context) (analytics.Overview, error)
	Invalidate(ctx context.Context)
}

type exportService interface {
	ExportIssue(ctx context.Context, issueID, viewerID string) (*export.Result, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	passwords *authpw.Service
	media     *media.Store
	search    searchService
	analytics analyticsService
	export    exportService
}

// New wires the lifecycle engine. sessions may be the Redis store or the
// PostgreSQL fallback; mediaStore may be nil when MinIO is not configured.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore, mediaStore *media.Store, searchSvc *search.Service, aggregator *analytics.Aggregator, exporter *export.Service) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		passwords: authpw.NewService(dataStore),
		media:     mediaStore,
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	if aggregator != nil {
		svc.analytics = aggregator
	}
	if exporter != nil {
		svc.export = exporter
	}
	return svc
}

// Bootstrap seeds reference categories and, on an empty database, the
// superadmin account used to provision the first administrators.
func (s *Service) Bootstrap(ctx context.Context) error {
	for _, name := range refdata.DefaultCategories {
		if err := s.store.EnsureCategory(ctx, name); err != nil {
			return err
		}
	}

	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if s.cfg.SeedAdminPassword == "" {
		log.Println("bootstrap: no seed superadmin password configured, skipping account seed")
		return nil
	}

	hash, err := authpw.HashPassword(s.cfg.SeedAdminPassword)
	if err != nil {
		return err
	}
	_, err = s.store.CreateUser(ctx, store.User{
		Email:        s.cfg.SeedAdminEmail,
		PasswordHash: hash,
		DisplayName:  "Superadmin",
		Role:         "superadmin",
	})
	return err
}

// --- sessions ---

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Re-read the account so a role change since sign-in takes effect here.
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// --- issues ---

func (s *Service) SubmitIssue(ctx context.Context, session Session, input SubmitIssueInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	state := strings.TrimSpace(input.State)
	city := strings.TrimSpace(input.City)
	location := strings.TrimSpace(input.Location)

	if title == "" {
		return nil, errValidation("title is required", nil)
	}
	if description == "" {
		return nil, errValidation("description is required", nil)
	}
	if location == "" {
		return nil, errValidation("location is required", nil)
	}
	cities := refdata.Cities(state)
	if cities == nil {
		return nil, errValidation("unknown state", map[string]any{"state": state})
	}
	if !containsString(cities, city) {
		return nil, errValidation("city does not belong to state", map[string]any{"state": state, "city": city})
	}

	priority := strings.TrimSpace(input.Priority)
	if priority == "" {
		priority = store.PriorityLow
	}
	if priority != store.PriorityLow && priority != store.PriorityMedium && priority != store.PriorityHigh {
		return nil, errValidation("priority must be low, medium, or high", nil)
	}

	var categoryID *string
	if id := strings.TrimSpace(input.CategoryID); id != "" {
		exists, err := s.store.CategoryExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errValidation("unknown category", map[string]any{"categoryId": id})
		}
		categoryID = &id
	}

	// A report is only actionable with photographic evidence attached.
	if len(input.MediaRefs) == 0 {
		return nil, errValidation("at least one media reference is required", nil)
	}
	for _, ref := range input.MediaRefs {
		if !media.ValidRef(ref) {
			return nil, errValidation("invalid media reference", map[string]any{"mediaRef": ref})
		}
	}

	// The on-record name is free text: a resident may report on behalf of a
	// neighbour or a shop. Blank falls back to the account name.
	reporterName := strings.TrimSpace(input.ReporterName)
	if reporterName == "" {
		reporterName = session.UserName
	}

	issue := store.Issue{
		ID:            util.NewID("iss"),
		Title:         title,
		Description:   description,
		State:         state,
		City:          city,
		ReporterName:  reporterName,
		ReporterPhone: strings.TrimSpace(input.ReporterPhone),
		CategoryID:    categoryID,
		Location:      location,
		Priority:      priority,
		Status:        store.StatusNotAssigned,
		ReporterID:    session.UserID,
		MediaRefs:     input.MediaRefs,
	}
	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}

	created, err := s.store.GetIssue(ctx, issue.ID, session.UserID)
	if err != nil {
		return nil, err
	}

	s.invalidateAnalytics(ctx)
	s.indexIssue(created)

	return issuePayload(created), nil
}

func (s *Service) GetIssue(ctx context.Context, session Session, issueID string) (map[string]any, error) {
	issue, err := s.store.GetIssue(ctx, issueID, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := issuePayload(issue)

	assignments, err := s.store.ListAssignments(ctx, issueID)
	if err != nil {
		return nil, err
	}
	payload["assignees"] = assignmentPayloads(assignments)
	return payload, nil
}

func (s *Service) ListIssues(ctx context.Context, session Session, filter store.IssueFilter) (map[string]any, error) {
	issues, err := s.store.ListIssues(ctx, filter, session.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		items = append(items, issuePayload(issue))
	}
	return map[string]any{"issues": items}, nil
}

// AdminQueue lists the issues currently assigned to the calling admin.
func (s *Service) AdminQueue(ctx context.Context, session Session) (map[string]any, error) {
	return s.ListIssues(ctx, session, store.IssueFilter{AssignedAdmin: session.UserID})
}

// ToggleUpvote flips the caller's vote on an issue. The operation is
// idempotent per user: repeated calls alternate the vote on and off.
func (s *Service) ToggleUpvote(ctx context.Context, session Session, issueID string) (map[string]any, error) {
	result, err := s.store.ToggleUpvote(ctx, session.UserID, issueID)
	if err != nil {
		return nil, err
	}

	s.invalidateAnalytics(ctx)

	return map[string]any{
		"issueId": issueID,
		"upvoted": result.Upvoted,
		"count":   result.Count,
	}, nil
}

// AssignIssue fans an issue out to one or more admins in a single atomic
// step and moves it to assigned. Partial assignment never survives: if any
// target is invalid the whole operation rolls back.
func (s *Service) AssignIssue(ctx context.Context, session Session, issueID string, input AssignIssueInput) (map[string]any, error) {
	adminIDs := dedupeStrings(input.AdminIDs)
	if len(adminIDs) == 0 {
		return nil, errValidation("at least one admin is required", nil)
	}

	assignments, err := s.store.AssignIssue(ctx, issueID, adminIDs, strings.TrimSpace(input.Note), session.UserID)
	if err != nil {
		return nil, err
	}

	issue, err := s.store.GetIssue(ctx, issueID, session.UserID)
	if err != nil {
		return nil, err
	}

	s.invalidateAnalytics(ctx)
	s.indexIssue(issue)

	payload := issuePayload(issue)
	payload["assignees"] = assignmentPayloads(assignments)
	return payload, nil
}

// ResolveIssue closes out an assigned issue with mandatory resolution notes
// and photographic proof.
func (s *Service) ResolveIssue(ctx context.Context, session Session, issueID string, input ResolveIssueInput) (map[string]any, error) {
	notes := strings.TrimSpace(input.Notes)
	proofRef := strings.TrimSpace(input.ProofRef)
	if notes == "" {
		return nil, errValidation("resolution notes are required", nil)
	}
	if proofRef == "" {
		return nil, errValidation("resolution proof is required", nil)
	}
	if !media.ValidRef(proofRef) {
		return nil, errValidation("invalid proof reference", map[string]any{"proofRef": proofRef})
	}

	if err := s.store.ResolveIssue(ctx, issueID, notes, proofRef, session.UserID); err != nil {
		return nil, err
	}

	issue, err := s.store.GetIssue(ctx, issueID, session.UserID)
	if err != nil {
		return nil, err
	}

	s.invalidateAnalytics(ctx)
	s.indexIssue(issue)

	return issuePayload(issue), nil
}

// --- analytics, search, export ---

func (s *Service) Analytics(ctx context.Context) (analytics.Overview, error) {
	if s.analytics == nil {
		return analytics.Overview{}, errUnavailable("Analytics not configured")
	}
	return s.analytics.Overview(ctx)
}

func (s *Service) Search(ctx context.Context, text, status, city, state string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:         text,
		FilterStatus: status,
		FilterCity:   city,
		FilterState:  state,
		Limit:        limit,
		Offset:       offset,
	}), nil
}

func (s *Service) ExportIssue(ctx context.Context, session Session, issueID string) (*export.Result, error) {
	if s.export == nil {
		return nil, errUnavailable("Export not configured")
	}
	return s.export.ExportIssue(ctx, issueID, session.UserID)
}

// --- reference data ---

func (s *Service) Categories(ctx context.Context) (map[string]any, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		items = append(items, map[string]any{"id": c.ID, "name": c.Name})
	}
	return map[string]any{"categories": items}, nil
}

func (s *Service) MediaStore() *media.Store {
	return s.media
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- helpers ---

func (s *Service) invalidateAnalytics(ctx context.Context) {
	if s.analytics != nil {
		s.analytics.Invalidate(ctx)
	}
}

func (s *Service) indexIssue(issue store.Issue) {
	if s.search == nil {
		return
	}
	s.search.IndexIssue(search.IssueRecord{
		ID:          issue.ID,
		Title:       issue.Title,
		Description: issue.Description,
		Location:    issue.Location,
		Status:      issue.Status,
		City:        issue.City,
		State:       issue.State,
		Category:    issue.CategoryName,
	})
}

func issuePayload(issue store.Issue) map[string]any {
	payload := map[string]any{
		"id":            issue.ID,
		"title":         issue.Title,
		"description":   issue.Description,
		"state":         issue.State,
		"city":          issue.City,
		"location":      issue.Location,
		"priority":      issue.Priority,
		"status":        issue.Status,
		"categoryId":    issue.CategoryID,
		"categoryName":  issue.CategoryName,
		"reporterId":    issue.ReporterID,
		"reporterName":  issue.ReporterName,
		"reporterPhone": issue.ReporterPhone,
		"mediaRefs":     issue.MediaRefs,
		"upvoteCount":   issue.UpvoteCount,
		"userUpvoted":   issue.UserUpvoted,
		"createdAt":     issue.CreatedAt,
	}
	if issue.Status == store.StatusResolved {
		payload["resolution"] = map[string]any{
			"notes":          derefString(issue.ResolutionNotes),
			"proofRef":       derefString(issue.ResolutionProofRef),
			"resolvedBy":     derefString(issue.ResolvedBy),
			"resolvedByName": issue.ResolvedByName,
			"resolvedAt":     issue.ResolvedAt,
		}
	}
	return payload
}

func assignmentPayloads(assignments []store.Assignment) []map[string]any {
	items := make([]map[string]any, 0, len(assignments))
	for _, a := range assignments {
		items = append(items, map[string]any{
			"id":         a.ID,
			"adminId":    a.AdminID,
			"adminName":  a.AdminName,
			"assignedBy": a.AssignedBy,
			"note":       a.Note,
			"assignedAt": a.CreatedAt,
		})
	}
	return items
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
