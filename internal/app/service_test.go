package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"civicdesk/api/internal/analytics"
	"civicdesk/api/internal/authpw"
	"civicdesk/api/internal/config"
	"civicdesk/api/internal/store"
)

// fakeStore is an in-memory stand-in for PostgresStore that mirrors its
// lifecycle semantics: status gating on assign/resolve, admin role checks,
// and per-user vote toggling.
type fakeStore struct {
	mu           sync.Mutex
	users        map[string]store.User
	usersByEmail map[string]string
	categories   map[string]store.Category
	issues       map[string]*store.Issue
	upvotes      map[string]map[string]bool
	assignments  map[string][]store.Assignment
	refresh      map[string]string
	revokedJTIs  map[string]bool
	seq          int

	assignIssueFn  func(context.Context, string, []string, string, string) ([]store.Assignment, error)
	toggleUpvoteFn func(context.Context, string, string) (store.VoteResult, error)
	getUserByIDFn  func(context.Context, string) (store.User, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        map[string]store.User{},
		usersByEmail: map[string]string{},
		categories:   map[string]store.Category{},
		issues:       map[string]*store.Issue{},
		upvotes:      map[string]map[string]bool{},
		assignments:  map[string][]store.Assignment{},
		refresh:      map[string]string{},
		revokedJTIs:  map[string]bool{},
	}
}

func (f *fakeStore) nextSeq() int {
	f.seq++
	return f.seq
}

func (f *fakeStore) addUser(name, role string) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("usr_%d", f.nextSeq())
	user := store.User{ID: id, Email: name + "@example.com", DisplayName: name, Role: role, CreatedAt: time.Now()}
	f.users[id] = user
	f.usersByEmail[user.Email] = id
	return user
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.usersByEmail[user.Email]; exists {
		return store.User{}, store.ErrConflict
	}
	user.ID = fmt.Sprintf("usr_%d", f.nextSeq())
	user.CreatedAt = time.Now()
	f.users[user.ID] = user
	f.usersByEmail[user.Email] = user.ID
	return user, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.usersByEmail[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[id], nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeStore) EnsureCategory(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.categories {
		if c.Name == name {
			return nil
		}
	}
	id := fmt.Sprintf("cat_%d", f.nextSeq())
	f.categories[id] = store.Category{ID: id, Name: name}
	return nil
}

func (f *fakeStore) ListCategories(ctx context.Context) ([]store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Category, 0, len(f.categories))
	for _, c := range f.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) CategoryExists(ctx context.Context, categoryID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.categories[categoryID]
	return ok, nil
}

func (f *fakeStore) CreateIssue(ctx context.Context, issue store.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue.CreatedAt = time.Now().Add(time.Duration(f.nextSeq()) * time.Millisecond)
	f.issues[issue.ID] = &issue
	return nil
}

func (f *fakeStore) GetIssue(ctx context.Context, issueID, viewerID string) (store.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[issueID]
	if !ok {
		return store.Issue{}, sql.ErrNoRows
	}
	out := *issue
	out.UpvoteCount = len(f.upvotes[issueID])
	out.UserUpvoted = f.upvotes[issueID][viewerID]
	if issue.CategoryID != nil {
		out.CategoryName = f.categories[*issue.CategoryID].Name
	}
	if issue.ResolvedBy != nil {
		out.ResolvedByName = f.users[*issue.ResolvedBy].DisplayName
	}
	return out, nil
}

func (f *fakeStore) ListIssues(ctx context.Context, filter store.IssueFilter, viewerID string) ([]store.Issue, error) {
	f.mu.Lock()
	ids := make([]string, 0, len(f.issues))
	for id := range f.issues {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	sort.Strings(ids)

	var out []store.Issue
	for _, id := range ids {
		issue, err := f.GetIssue(ctx, id, viewerID)
		if err != nil {
			return nil, err
		}
		if filter.State != "" && issue.State != filter.State {
			continue
		}
		if filter.City != "" && issue.City != filter.City {
			continue
		}
		if filter.Status != "" && issue.Status != filter.Status {
			continue
		}
		if filter.ReporterID != "" && issue.ReporterID != filter.ReporterID {
			continue
		}
		if filter.AssignedAdmin != "" {
			found := false
			f.mu.Lock()
			for _, a := range f.assignments[id] {
				if a.AdminID == filter.AssignedAdmin {
					found = true
				}
			}
			f.mu.Unlock()
			if !found {
				continue
			}
		}
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) AssignIssue(ctx context.Context, issueID string, adminIDs []string, note, assignedBy string) ([]store.Assignment, error) {
	if f.assignIssueFn != nil {
		return f.assignIssueFn(ctx, issueID, adminIDs, note, assignedBy)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[issueID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if issue.Status != store.StatusNotAssigned {
		return nil, store.ErrInvalidState
	}
	// All-or-nothing: validate every target before writing anything.
	for _, adminID := range adminIDs {
		user, ok := f.users[adminID]
		if !ok {
			return nil, sql.ErrNoRows
		}
		if user.Role != "admin" {
			return nil, fmt.Errorf("assign %s: %w", adminID, store.ErrNotAdmin)
		}
	}
	var created []store.Assignment
	for _, adminID := range adminIDs {
		a := store.Assignment{
			ID:         fmt.Sprintf("asg_%d", f.nextSeq()),
			IssueID:    issueID,
			AdminID:    adminID,
			AdminName:  f.users[adminID].DisplayName,
			AssignedBy: assignedBy,
			Note:       note,
			CreatedAt:  time.Now(),
		}
		f.assignments[issueID] = append(f.assignments[issueID], a)
		created = append(created, a)
	}
	issue.Status = store.StatusAssigned
	return created, nil
}

func (f *fakeStore) ResolveIssue(ctx context.Context, issueID, notes, proofRef, resolvedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[issueID]
	if !ok {
		return sql.ErrNoRows
	}
	if issue.Status != store.StatusAssigned {
		return store.ErrInvalidState
	}
	now := time.Now()
	issue.Status = store.StatusResolved
	issue.ResolutionNotes = &notes
	issue.ResolutionProofRef = &proofRef
	issue.ResolvedBy = &resolvedBy
	issue.ResolvedAt = &now
	return nil
}

func (f *fakeStore) ListAssignments(ctx context.Context, issueID string) ([]store.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Assignment(nil), f.assignments[issueID]...), nil
}

func (f *fakeStore) ToggleUpvote(ctx context.Context, userID, issueID string) (store.VoteResult, error) {
	if f.toggleUpvoteFn != nil {
		return f.toggleUpvoteFn(ctx, userID, issueID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.issues[issueID]; !ok {
		return store.VoteResult{}, sql.ErrNoRows
	}
	votes := f.upvotes[issueID]
	if votes == nil {
		votes = map[string]bool{}
		f.upvotes[issueID] = votes
	}
	if votes[userID] {
		delete(votes, userID)
		return store.VoteResult{Upvoted: false, Count: len(votes)}, nil
	}
	votes[userID] = true
	return store.VoteResult{Upvoted: true, Count: len(votes)}, nil
}

func (f *fakeStore) CountIssues(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issues), nil
}

func (f *fakeStore) CountsByStatus(ctx context.Context) (store.StatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts store.StatusCounts
	for _, issue := range f.issues {
		switch issue.Status {
		case store.StatusNotAssigned:
			counts.NotAssigned++
		case store.StatusAssigned:
			counts.Assigned++
		case store.StatusResolved:
			counts.Resolved++
		}
	}
	return counts, nil
}

func (f *fakeStore) CountsByCategory(ctx context.Context) ([]store.CategoryCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, issue := range f.issues {
		name := "uncategorized"
		if issue.CategoryID != nil {
			name = f.categories[*issue.CategoryID].Name
		}
		counts[name]++
	}
	out := make([]store.CategoryCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, store.CategoryCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

func (f *fakeStore) TopUpvoted(ctx context.Context, n int) ([]store.TopIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.TopIssue, 0, len(f.issues))
	for id, issue := range f.issues {
		out = append(out, store.TopIssue{
			ID:          id,
			Title:       issue.Title,
			Status:      issue.Status,
			UpvoteCount: len(f.upvotes[id]),
			CreatedAt:   issue.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpvoteCount != out[j].UpvoteCount {
			return out[i].UpvoteCount > out[j].UpvoteCount
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTIs[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTIs[jti], nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:     fs,
		sessions:  fs,
		passwords: authpw.NewService(fs),
		analytics: analytics.NewAggregator(fs, nil),
	}
}

func sessionFor(user store.User) Session {
	return Session{UserID: user.ID, UserName: user.DisplayName, Role: user.Role}
}

func validIssueInput() SubmitIssueInput {
	return SubmitIssueInput{
		Title:       "Huge pothole on MG Road",
		Description: "Two feet wide, near the bus stop.",
		State:       "Karnataka",
		City:        "Bengaluru",
		Location:    "MG Road, near bus stop 12",
		MediaRefs:   []string{"med_1f00d"},
	}
}

func TestSubmitIssueDefaults(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	citizen := fs.addUser("Asha", "citizen")

	payload, err := svc.SubmitIssue(context.Background(), sessionFor(citizen), validIssueInput())
	if err != nil {
		t.Fatalf("SubmitIssue failed: %v", err)
	}

	if payload["status"] != store.StatusNotAssigned {
		t.Errorf("new issue should start not-assigned, got %v", payload["status"])
	}
	if payload["priority"] != store.PriorityLow {
		t.Errorf("priority should default to low, got %v", payload["priority"])
	}
	if payload["reporterId"] != citizen.ID {
		t.Errorf("reporterId = %v, want %s", payload["reporterId"], citizen.ID)
	}
	if payload["upvoteCount"] != 0 {
		t.Errorf("new issue should have zero upvotes, got %v", payload["upvoteCount"])
	}
}

func TestSubmitIssueValidation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	citizen := fs.addUser("Asha", "citizen")

	tests := []struct {
		name   string
		mutate func(*SubmitIssueInput)
	}{
		{"missing title", func(in *SubmitIssueInput) { in.Title = " " }},
		{"missing description", func(in *SubmitIssueInput) { in.Description = "" }},
		{"missing location", func(in *SubmitIssueInput) { in.Location = "" }},
		{"unknown state", func(in *SubmitIssueInput) { in.State = "Atlantis" }},
		{"city outside state", func(in *SubmitIssueInput) { in.City = "Mumbai" }},
		{"bad priority", func(in *SubmitIssueInput) { in.Priority = "urgent" }},
		{"unknown category", func(in *SubmitIssueInput) { in.CategoryID = "cat_nope" }},
		{"no media refs", func(in *SubmitIssueInput) { in.MediaRefs = nil }},
		{"empty media list", func(in *SubmitIssueInput) { in.MediaRefs = []string{} }},
		{"bad media ref", func(in *SubmitIssueInput) { in.MediaRefs = []string{"not-a-ref"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validIssueInput()
			tt.mutate(&input)
			_, err := svc.SubmitIssue(context.Background(), sessionFor(citizen), input)
			var domainErr *DomainError
			if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestSubmitIssueReporterName(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	citizen := fs.addUser("Asha", "citizen")

	// Blank on-record name falls back to the account name.
	payload, err := svc.SubmitIssue(context.Background(), sessionFor(citizen), validIssueInput())
	if err != nil {
		t.Fatalf("SubmitIssue failed: %v", err)
	}
	if payload["reporterName"] != "Asha" {
		t.Errorf("reporterName = %v, want account name Asha", payload["reporterName"])
	}

	// A report filed on someone's behalf keeps the given name.
	input := validIssueInput()
	input.ReporterName = "  Lakshmi Stores "
	payload, err = svc.SubmitIssue(context.Background(), sessionFor(citizen), input)
	if err != nil {
		t.Fatalf("SubmitIssue failed: %v", err)
	}
	if payload["reporterName"] != "Lakshmi Stores" {
		t.Errorf("reporterName = %v, want Lakshmi Stores", payload["reporterName"])
	}
	if payload["reporterId"] != citizen.ID {
		t.Errorf("reporterId = %v, want the authenticated account %s", payload["reporterId"], citizen.ID)
	}
}

func TestToggleUpvoteFlips(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	citizen := fs.addUser("Asha", "citizen")
	other := fs.addUser("Kiran", "citizen")

	payload, err := svc.SubmitIssue(context.Background(), sessionFor(citizen), validIssueInput())
	if err != nil {
		t.Fatalf("SubmitIssue failed: %v", err)
	}
	issueID := payload["id"].(string)

	first, err := svc.ToggleUpvote(context.Background(), sessionFor(other), issueID)
	if err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	if first["upvoted"] != true || first["count"] != 1 {
		t.Errorf("first toggle = %v, want upvoted=true count=1", first)
	}

	second, err := svc.ToggleUpvote(context.Background(), sessionFor(other), issueID)
	if err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if second["upvoted"] != false || second["count"] != 0 {
		t.Errorf("second toggle = %v, want upvoted=false count=0", second)
	}

	_, err = svc.ToggleUpvote(context.Background(), sessionFor(other), "iss_missing")
	if status, code, _, _ := mapError(err); status != 404 || code != "NOT_FOUND" {
		t.Errorf("toggle on missing issue mapped to %d %s, want 404 NOT_FOUND", status, code)
	}
}

func TestAssignIssueLifecycle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	citizen := fs.addUser("Asha", "citizen")
	admin1 := fs.addUser("Ravi", "admin")
	admin2 := fs.addUser("Meera", "admin")
	super := fs.addUser("Root", "superadmin")

	payload, err := svc.SubmitIssue(context.Background(), sessionFor(citizen), validIssueInput())
	if err != nil {
		t.Fatalf("SubmitIssue failed: %v", err)
	}
	issueID := payload["id"].(string)

	_, err = svc.AssignIssue(context.Background(), sessionFor(super), issueID, AssignIssueInput{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Errorf("empty admin list should be VALIDATION_ERROR, got %v", err)
	}

	assigned, err := svc.AssignIssue(context.Background(), sessionFor(super), issueID, AssignIssueInput{
		AdminIDs: []string{admin1.ID, admin2.ID, admin1.ID},
		Note:     "Roads dept",
	})
	if err != nil {
		t.Fatalf("AssignIssue failed: %v", err)
	}
	if assigned["status"] != store.StatusAssigned {
		t.Errorf("status = %v, want assigned", assigned["status"])
	}
	assignees := assigned["assignees"].([]map[string]any)
	if len(assignees) != 2 {
		t.Fatalf("duplicate admin IDs should collapse, got %d assignments", len(assignees))
	}

	// Already assigned
	_, err = svc.AssignIssue(context.Background(), sessionFor(super), issueID, AssignIssueInput{AdminIDs: []string{admin1.ID}})
	if status, code, _, _ := mapError(err); status != 409 || code != "INVALID_STATE" {
		t.Errorf("reassign mapped to %d %s, want 409 INVALID_STATE", status, code)
	}
}

func TestAssignIssueRejectsNonAdminAtomically(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	citizen := fs.addUser("Asha", "citizen")
	admin := fs.addUser("Ravi", "admin")
	super := fs.addUser("Root", "superadmin")

	payload, err := svc.SubmitIssue(context.Background(), sessionFor(citizen), validIssueInput())
	if err != nil {
		t.Fatalf("SubmitIssue failed: %v", err)
	}
	issueID := payload["id"].(string)

	_, err = svc.AssignIssue(context.Background(), sessionFor(super), issueID, AssignIssueInput{
		AdminIDs: []string{admin.ID, citizen.ID},
	})
	if status, code, _, _ := mapError(err); status != 422 || code != "VALIDATION_ERROR" {
		t.Errorf("non-admin target mapped to %d %s, want 422 VALIDATION_ERROR", status, code)
	}

	// Nothing may stick from the failed fan-out.
	got, err := svc.GetIssue(context.Background(), sessionFor(super), issueID)
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if got["status"] != store.StatusNotAssigned {
		t.Errorf("status = %v, want not-assigned after failed assign", got["status"])
	}
	if len(got["assignees"].([]map[string]any)) != 0 {
		t.Error("failed assign left assignment rows behind")
	}
}

func TestResolveIssueLifecycle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	citizen := fs.addUser("Asha", "citizen")
	admin := fs.addUser("Ravi", "admin")
	super := fs.addUser("Root", "superadmin")

	payload, err := svc.SubmitIssue(context.Background(), sessionFor(citizen), validIssueInput())
	if err != nil {
		t.Fatalf("SubmitIssue failed: %v", err)
	}
	issueID := payload["id"].(string)

	resolveInput := ResolveIssueInput{Notes: "Filled and resurfaced.", ProofRef: "med_abc123"}

	// Not yet assigned
	_, err = svc.ResolveIssue(context.Background(), sessionFor(admin), issueID, resolveInput)
	if status, code, _, _ := mapError(err); status != 409 || code != "INVALID_STATE" {
		t.Errorf("resolve before assign mapped to %d %s, want 409 INVALID_STATE", status, code)
	}

	if _, err := svc.AssignIssue(context.Background(), sessionFor(super), issueID, AssignIssueInput{AdminIDs: []string{admin.ID}}); err != nil {
		t.Fatalf("AssignIssue failed: %v", err)
	}

	for _, tt := range []struct {
		name  string
		input ResolveIssueInput
	}{
		{"missing notes", ResolveIssueInput{ProofRef: "med_abc123"}},
		{"missing proof", ResolveIssueInput{Notes: "done"}},
		{"bad proof ref", ResolveIssueInput{Notes: "done", ProofRef: "whatever"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ResolveIssue(context.Background(), sessionFor(admin), issueID, tt.input)
			var domainErr *DomainError
			if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}

	resolved, err := svc.ResolveIssue(context.Background(), sessionFor(admin), issueID, resolveInput)
	if err != nil {
		t.Fatalf("ResolveIssue failed: %v", err)
	}
	if resolved["status"] != store.StatusResolved {
		t.Errorf("status = %v, want resolved", resolved["status"])
	}
	resolution := resolved["resolution"].(map[string]any)
	if resolution["notes"] != "Filled and resurfaced." || resolution["proofRef"] != "med_abc123" {
		t.Errorf("resolution payload = %v", resolution)
	}
	if resolution["resolvedBy"] != admin.ID {
		t.Errorf("resolvedBy = %v, want %s", resolution["resolvedBy"], admin.ID)
	}

	// Already resolved
	_, err = svc.ResolveIssue(context.Background(), sessionFor(admin), issueID, resolveInput)
	if status, code, _, _ := mapError(err); status != 409 || code != "INVALID_STATE" {
		t.Errorf("double resolve mapped to %d %s, want 409 INVALID_STATE", status, code)
	}
}

func TestAdminQueueListsOwnAssignmentsOnly(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	citizen := fs.addUser("Asha", "citizen")
	admin1 := fs.addUser("Ravi", "admin")
	admin2 := fs.addUser("Meera", "admin")
	super := fs.addUser("Root", "superadmin")

	ctx := context.Background()
	for i, target := range []store.User{admin1, admin2} {
		input := validIssueInput()
		input.Title = fmt.Sprintf("Issue %d", i)
		payload, err := svc.SubmitIssue(ctx, sessionFor(citizen), input)
		if err != nil {
			t.Fatalf("SubmitIssue failed: %v", err)
		}
		if _, err := svc.AssignIssue(ctx, sessionFor(super), payload["id"].(string), AssignIssueInput{AdminIDs: []string{target.ID}}); err != nil {
			t.Fatalf("AssignIssue failed: %v", err)
		}
	}

	queue, err := svc.AdminQueue(ctx, sessionFor(admin1))
	if err != nil {
		t.Fatalf("AdminQueue failed: %v", err)
	}
	issues := queue["issues"].([]map[string]any)
	if len(issues) != 1 {
		t.Fatalf("expected 1 queued issue for admin1, got %d", len(issues))
	}
	if issues[0]["title"] != "Issue 0" {
		t.Errorf("queue contains %v, want Issue 0", issues[0]["title"])
	}
}

func TestRefreshPicksUpRoleChange(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	sess, err := svc.SignUp(ctx, "asha@example.com", "longenough", "Asha")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if sess.Role != "citizen" {
		t.Fatalf("new account role = %s, want citizen", sess.Role)
	}

	// Promote out of band, then refresh.
	fs.mu.Lock()
	user := fs.users[sess.UserID]
	user.Role = "admin"
	fs.users[sess.UserID] = user
	fs.mu.Unlock()

	refreshed, err := svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if refreshed.Role != "admin" {
		t.Errorf("refreshed role = %s, want admin", refreshed.Role)
	}

	// Refresh tokens are single use.
	if _, err := svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Error("second refresh with the same token should fail")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()

	sess, err := svc.SignUp(ctx, "asha@example.com", "longenough", "Asha")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	if _, err := svc.SessionFromToken(ctx, sess.Token); err != nil {
		t.Fatalf("SessionFromToken before logout failed: %v", err)
	}

	if err := svc.Logout(ctx, sess, sess.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := svc.SessionFromToken(ctx, sess.Token); err == nil {
		t.Error("access token should be rejected after logout")
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Error("refresh token should be rejected after logout")
	}
}

func TestAnalyticsOverview(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	citizen := fs.addUser("Asha", "citizen")
	admin := fs.addUser("Ravi", "admin")
	super := fs.addUser("Root", "superadmin")
	voters := []store.User{
		fs.addUser("V1", "citizen"),
		fs.addUser("V2", "citizen"),
		fs.addUser("V3", "citizen"),
	}

	ctx := context.Background()
	var issueIDs []string
	for i := 0; i < 5; i++ {
		input := validIssueInput()
		input.Title = fmt.Sprintf("Issue %d", i)
		payload, err := svc.SubmitIssue(ctx, sessionFor(citizen), input)
		if err != nil {
			t.Fatalf("SubmitIssue failed: %v", err)
		}
		issueIDs = append(issueIDs, payload["id"].(string))
	}

	// Issue 0: 2 votes. Issues 1 and 2: 1 vote each, issue 2 is newer.
	for _, voter := range voters[:2] {
		if _, err := svc.ToggleUpvote(ctx, sessionFor(voter), issueIDs[0]); err != nil {
			t.Fatalf("ToggleUpvote failed: %v", err)
		}
	}
	for _, id := range issueIDs[1:3] {
		if _, err := svc.ToggleUpvote(ctx, sessionFor(voters[2]), id); err != nil {
			t.Fatalf("ToggleUpvote failed: %v", err)
		}
	}

	// Move one issue through the full lifecycle.
	if _, err := svc.AssignIssue(ctx, sessionFor(super), issueIDs[3], AssignIssueInput{AdminIDs: []string{admin.ID}}); err != nil {
		t.Fatalf("AssignIssue failed: %v", err)
	}
	if _, err := svc.ResolveIssue(ctx, sessionFor(admin), issueIDs[3], ResolveIssueInput{Notes: "done", ProofRef: "med_abc"}); err != nil {
		t.Fatalf("ResolveIssue failed: %v", err)
	}

	ov, err := svc.Analytics(ctx)
	if err != nil {
		t.Fatalf("Analytics failed: %v", err)
	}

	if ov.Total != 5 {
		t.Errorf("total = %d, want 5", ov.Total)
	}
	if sum := ov.ByStatus.NotAssigned + ov.ByStatus.Assigned + ov.ByStatus.Resolved; sum != ov.Total {
		t.Errorf("status buckets sum to %d, want %d", sum, ov.Total)
	}
	if ov.ByStatus.Resolved != 1 {
		t.Errorf("resolved = %d, want 1", ov.ByStatus.Resolved)
	}

	if len(ov.TopIssues) != 3 {
		t.Fatalf("top issues = %d, want 3", len(ov.TopIssues))
	}
	if ov.TopIssues[0].ID != issueIDs[0] {
		t.Errorf("top issue = %s, want %s (most votes)", ov.TopIssues[0].ID, issueIDs[0])
	}
	// Tie on vote count breaks toward the newer issue.
	if ov.TopIssues[1].ID != issueIDs[2] || ov.TopIssues[2].ID != issueIDs[1] {
		t.Errorf("tie-break order = [%s %s], want newest first [%s %s]",
			ov.TopIssues[1].ID, ov.TopIssues[2].ID, issueIDs[2], issueIDs[1])
	}
}
