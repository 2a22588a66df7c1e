package export

import (
	"context"
	"fmt"
	"time"

	"civicdesk/api/internal/store"
)

// DataStore is the data access the exporter needs.
type DataStore interface {
	GetIssue(ctx context.Context, issueID, viewerID string) (store.Issue, error)
	ListAssignments(ctx context.Context, issueID string) ([]store.Assignment, error)
}

// Service renders issue reports to PDF.
type Service struct {
	store DataStore
}

// NewService creates an export service.
func NewService(st DataStore) *Service {
	return &Service{store: st}
}

// ExportIssue renders the full report for one issue as a PDF.
func (s *Service) ExportIssue(ctx context.Context, issueID, viewerID string) (*Result, error) {
	issue, err := s.store.GetIssue(ctx, issueID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}

	assignments, err := s.store.ListAssignments(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	data := TemplateData{
		ID:           issue.ID,
		Title:        issue.Title,
		Description:  issue.Description,
		Category:     issue.CategoryName,
		Location:     issue.Location,
		City:         issue.City,
		State:        issue.State,
		Priority:     issue.Priority,
		Status:       issue.Status,
		ReporterName: issue.ReporterName,
		UpvoteCount:  issue.UpvoteCount,
		CreatedAt:    issue.CreatedAt,
		GeneratedAt:  time.Now().UTC(),
	}

	for _, a := range assignments {
		data.Assignees = append(data.Assignees, TemplateAssignee{
			Name:       a.AdminName,
			Note:       a.Note,
			AssignedAt: a.CreatedAt,
		})
	}

	if issue.Status == store.StatusResolved {
		data.Resolved = true
		data.ResolvedByName = issue.ResolvedByName
		if issue.ResolutionNotes != nil {
			data.ResolutionNotes = *issue.ResolutionNotes
		}
		if issue.ResolvedAt != nil {
			data.ResolvedAt = *issue.ResolvedAt
		}
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return exportPDF(html, issue.Title)
}
