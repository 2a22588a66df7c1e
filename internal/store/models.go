package store

import "time"

const (
	StatusNotAssigned = "not-assigned"
	StatusAssigned    = "assigned"
	StatusResolved    = "resolved"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         string
	CreatedAt    time.Time
}

type Category struct {
	ID   string
	Name string
}

// Issue carries the persisted record plus the derived fields (upvote count,
// viewer vote, category and resolver names) that read paths join in.
type Issue struct {
	ID                 string
	Title              string
	Description        string
	State              string
	City               string
	ReporterName       string
	ReporterPhone      string
	CategoryID         *string
	CategoryName       string
	Location           string
	Priority           string
	Status             string
	ReporterID         string
	MediaRefs          []string
	ResolutionNotes    *string
	ResolutionProofRef *string
	ResolvedBy         *string
	ResolvedByName     string
	ResolvedAt         *time.Time
	CreatedAt          time.Time
	UpvoteCount        int
	UserUpvoted        bool
}

type Assignment struct {
	ID         string
	IssueID    string
	AdminID    string
	AdminName  string
	AssignedBy string
	Note       string
	CreatedAt  time.Time
}

// IssueFilter applies AND semantics; empty fields impose no constraint.
type IssueFilter struct {
	State         string
	City          string
	Status        string
	ReporterID    string
	AssignedAdmin string
}

type VoteResult struct {
	Upvoted bool
	Count   int
}

type StatusCounts struct {
	NotAssigned int
	Assigned    int
	Resolved    int
}

type CategoryCount struct {
	Name  string
	Count int
}

type TopIssue struct {
	ID          string
	Title       string
	Status      string
	UpvoteCount int
	CreatedAt   time.Time
}
