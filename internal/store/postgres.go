package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInvalidState is returned when a lifecycle transition is not legal
	// for the issue's current status. The check runs inside the same
	// transaction as the write, under a row lock, so a losing concurrent
	// writer observes the post-transition status.
	ErrInvalidState = errors.New("invalid issue state")
	// ErrConflict is returned when a concurrent write race was detected by
	// the database. The whole operation is safe to retry.
	ErrConflict = errors.New("concurrent write conflict")
	// ErrNotAdmin is returned when an assignment targets a user that exists
	// but does not hold the admin role.
	ErrNotAdmin = errors.New("user is not an admin")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// translateErr maps driver-level race signals onto ErrConflict so callers
// can distinguish retryable contention from real failures.
func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return ErrConflict
		}
	}
	return err
}

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, user.Email, user.PasswordHash, user.DisplayName, user.Role).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if translated := translateErr(err); errors.Is(translated, ErrConflict) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, display_name, role, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, display_name, role, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// --- categories ---

func (s *PostgresStore) EnsureCategory(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (name)
		VALUES ($1)
		ON CONFLICT (name) DO NOTHING
	`, name)
	if err != nil {
		return fmt.Errorf("ensure category: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		if err := rows.Scan(&item.ID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CategoryExists(ctx context.Context, categoryID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM categories WHERE id=$1)`, categoryID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check category: %w", err)
	}
	return exists, nil
}

// --- issues ---

const issueColumns = `
	i.id, i.title, i.description, i.state, i.city, i.reporter_name, i.reporter_phone,
	i.category_id, COALESCE(c.name, ''), i.location, i.priority, i.status, i.reporter_id,
	i.resolution_notes, i.resolution_proof_ref, i.resolved_by, COALESCE(r.display_name, ''),
	i.resolved_at, i.created_at,
	(SELECT COUNT(*) FROM upvotes v WHERE v.issue_id = i.id)::int,
	EXISTS(SELECT 1 FROM upvotes v WHERE v.issue_id = i.id AND v.user_id = $1)
`

func scanIssue(row interface{ Scan(...any) error }) (Issue, error) {
	var item Issue
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.State,
		&item.City,
		&item.ReporterName,
		&item.ReporterPhone,
		&item.CategoryID,
		&item.CategoryName,
		&item.Location,
		&item.Priority,
		&item.Status,
		&item.ReporterID,
		&item.ResolutionNotes,
		&item.ResolutionProofRef,
		&item.ResolvedBy,
		&item.ResolvedByName,
		&item.ResolvedAt,
		&item.CreatedAt,
		&item.UpvoteCount,
		&item.UserUpvoted,
	)
	return item, err
}

func (s *PostgresStore) CreateIssue(ctx context.Context, issue Issue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create issue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO issues (id, title, description, state, city, reporter_name, reporter_phone,
			category_id, location, priority, status, reporter_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, issue.ID, issue.Title, issue.Description, issue.State, issue.City, issue.ReporterName,
		issue.ReporterPhone, issue.CategoryID, issue.Location, issue.Priority, StatusNotAssigned, issue.ReporterID)
	if err != nil {
		return fmt.Errorf("insert issue: %w", translateErr(err))
	}

	for position, ref := range issue.MediaRefs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO issue_media (issue_id, media_ref, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (issue_id, media_ref) DO NOTHING
		`, issue.ID, ref, position); err != nil {
			return fmt.Errorf("insert issue media: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create issue: %w", translateErr(err))
	}
	return nil
}

func (s *PostgresStore) GetIssue(ctx context.Context, issueID, viewerID string) (Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues i
		LEFT JOIN categories c ON c.id = i.category_id
		LEFT JOIN users r ON r.id = i.resolved_by
		WHERE i.id = $2
	`, viewerID, issueID)
	item, err := scanIssue(row)
	if err != nil {
		return Issue{}, err
	}
	refs, err := s.issueMediaRefs(ctx, issueID)
	if err != nil {
		return Issue{}, err
	}
	item.MediaRefs = refs
	return item, nil
}

func (s *PostgresStore) issueMediaRefs(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT media_ref FROM issue_media WHERE issue_id=$1 ORDER BY position ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list issue media: %w", err)
	}
	defer rows.Close()

	refs := make([]string, 0)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan issue media: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue media: %w", err)
	}
	return refs, nil
}

// ListIssues returns a newest-first snapshot matching every provided filter.
func (s *PostgresStore) ListIssues(ctx context.Context, filter IssueFilter, viewerID string) ([]Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues i
		LEFT JOIN categories c ON c.id = i.category_id
		LEFT JOIN users r ON r.id = i.resolved_by
		WHERE ($2='' OR i.state=$2)
		  AND ($3='' OR i.city=$3)
		  AND ($4='' OR i.status=$4)
		  AND ($5='' OR i.reporter_id=$5)
		  AND ($6='' OR EXISTS(SELECT 1 FROM assignments a WHERE a.issue_id=i.id AND a.admin_id=$6))
		ORDER BY i.created_at DESC, i.id DESC
	`, viewerID, filter.State, filter.City, filter.Status, filter.ReporterID, filter.AssignedAdmin)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	items := make([]Issue, 0)
	for rows.Next() {
		item, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return items, nil
}

// AssignIssue creates one assignment row per admin and flips the issue to
// assigned, all in one transaction. A row lock on the issue serializes
// concurrent transitions; any invalid admin id rolls the whole fan-out back.
func (s *PostgresStore) AssignIssue(ctx context.Context, issueID string, adminIDs []string, note, assignedBy string) ([]Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin assign: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM issues WHERE id=$1 FOR UPDATE`, issueID).Scan(&status)
	if err != nil {
		return nil, err
	}
	if status != StatusNotAssigned {
		return nil, ErrInvalidState
	}

	created := make([]Assignment, 0, len(adminIDs))
	for _, adminID := range adminIDs {
		var role, displayName string
		err := tx.QueryRowContext(ctx, `SELECT role, display_name FROM users WHERE id=$1`, adminID).Scan(&role, &displayName)
		if err != nil {
			return nil, err
		}
		if role != "admin" {
			return nil, fmt.Errorf("assign %s: %w", adminID, ErrNotAdmin)
		}

		var item Assignment
		err = tx.QueryRowContext(ctx, `
			INSERT INTO assignments (issue_id, admin_id, assigned_by, note)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, issueID, adminID, assignedBy, note).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert assignment: %w", translateErr(err))
		}
		item.IssueID = issueID
		item.AdminID = adminID
		item.AdminName = displayName
		item.AssignedBy = assignedBy
		item.Note = note
		created = append(created, item)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE issues SET status=$2 WHERE id=$1`, issueID, StatusAssigned); err != nil {
		return nil, fmt.Errorf("update issue status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assign: %w", translateErr(err))
	}
	return created, nil
}

// ResolveIssue writes the four resolution fields and the status flip as one
// atomic unit. A second resolve, or a resolve on an unassigned issue, sees
// the row-locked status and fails with ErrInvalidState.
func (s *PostgresStore) ResolveIssue(ctx context.Context, issueID, notes, proofRef, resolvedBy string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolve: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM issues WHERE id=$1 FOR UPDATE`, issueID).Scan(&status)
	if err != nil {
		return err
	}
	if status != StatusAssigned {
		return ErrInvalidState
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE issues
		SET status=$2, resolution_notes=$3, resolution_proof_ref=$4, resolved_by=$5, resolved_at=NOW()
		WHERE id=$1
	`, issueID, StatusResolved, notes, proofRef, resolvedBy)
	if err != nil {
		return fmt.Errorf("update resolution: %w", translateErr(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resolve: %w", translateErr(err))
	}
	return nil
}

func (s *PostgresStore) ListAssignments(ctx context.Context, issueID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.issue_id, a.admin_id, u.display_name, a.assigned_by, a.note, a.created_at
		FROM assignments a
		JOIN users u ON u.id = a.admin_id
		WHERE a.issue_id=$1
		ORDER BY a.created_at ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	items := make([]Assignment, 0)
	for rows.Next() {
		var item Assignment
		if err := rows.Scan(&item.ID, &item.IssueID, &item.AdminID, &item.AdminName, &item.AssignedBy, &item.Note, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return items, nil
}

// --- vote ledger ---

// ToggleUpvote flips the (user, issue) vote row and reads the post-toggle
// count in the same transaction. The primary key on (user_id, issue_id)
// absorbs check-then-act races: a concurrent duplicate insert surfaces as
// ErrConflict instead of a double vote.
func (s *PostgresStore) ToggleUpvote(ctx context.Context, userID, issueID string) (VoteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return VoteResult{}, fmt.Errorf("begin toggle upvote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM issues WHERE id=$1)`, issueID).Scan(&exists); err != nil {
		return VoteResult{}, fmt.Errorf("check issue: %w", err)
	}
	if !exists {
		return VoteResult{}, sql.ErrNoRows
	}

	deleted, err := tx.ExecContext(ctx, `
		DELETE FROM upvotes WHERE user_id=$1 AND issue_id=$2
	`, userID, issueID)
	if err != nil {
		return VoteResult{}, fmt.Errorf("delete upvote: %w", translateErr(err))
	}
	affected, err := deleted.RowsAffected()
	if err != nil {
		return VoteResult{}, fmt.Errorf("delete upvote rows: %w", err)
	}

	upvoted := false
	if affected == 0 {
		inserted, err := tx.ExecContext(ctx, `
			INSERT INTO upvotes (user_id, issue_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id, issue_id) DO NOTHING
		`, userID, issueID)
		if err != nil {
			return VoteResult{}, fmt.Errorf("insert upvote: %w", translateErr(err))
		}
		rows, err := inserted.RowsAffected()
		if err != nil {
			return VoteResult{}, fmt.Errorf("insert upvote rows: %w", err)
		}
		if rows == 0 {
			// a concurrent toggle by the same user won the insert
			return VoteResult{}, ErrConflict
		}
		upvoted = true
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM upvotes WHERE issue_id=$1`, issueID).Scan(&count); err != nil {
		return VoteResult{}, fmt.Errorf("count upvotes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return VoteResult{}, fmt.Errorf("commit toggle upvote: %w", translateErr(err))
	}
	return VoteResult{Upvoted: upvoted, Count: count}, nil
}

// --- analytics ---

func (s *PostgresStore) CountIssues(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count issues: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountsByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)::int FROM issues GROUP BY status
	`)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return StatusCounts{}, fmt.Errorf("scan status count: %w", err)
		}
		switch status {
		case StatusNotAssigned:
			counts.NotAssigned = count
		case StatusAssigned:
			counts.Assigned = count
		case StatusResolved:
			counts.Resolved = count
		}
	}
	if err := rows.Err(); err != nil {
		return StatusCounts{}, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) CountsByCategory(ctx context.Context) ([]CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(c.name, 'uncategorized'), COUNT(*)::int
		FROM issues i
		LEFT JOIN categories c ON c.id = i.category_id
		GROUP BY c.name
		ORDER BY COUNT(*) DESC, COALESCE(c.name, 'uncategorized') ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	defer rows.Close()

	items := make([]CategoryCount, 0)
	for rows.Next() {
		var item CategoryCount
		if err := rows.Scan(&item.Name, &item.Count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category counts: %w", err)
	}
	return items, nil
}

// TopUpvoted returns the n most upvoted issues; ties break toward the most
// recently created so the ordering never depends on storage order.
func (s *PostgresStore) TopUpvoted(ctx context.Context, n int) ([]TopIssue, error) {
	if n <= 0 {
		n = 3
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.title, i.status,
			(SELECT COUNT(*) FROM upvotes v WHERE v.issue_id = i.id)::int AS vote_count,
			i.created_at
		FROM issues i
		ORDER BY vote_count DESC, i.created_at DESC, i.id DESC
		LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("top upvoted: %w", err)
	}
	defer rows.Close()

	items := make([]TopIssue, 0, n)
	for rows.Next() {
		var item TopIssue
		if err := rows.Scan(&item.ID, &item.Title, &item.Status, &item.UpvoteCount, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan top issue: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top issues: %w", err)
	}
	return items, nil
}

// --- sessions ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
