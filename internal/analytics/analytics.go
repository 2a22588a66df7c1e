// Package analytics computes the dashboard overview: issue totals broken
// down by status and category, plus the most-upvoted issues. Numbers are
// read from PostgreSQL on demand; a short-lived Redis cache absorbs
// dashboard polling, and the lifecycle engine invalidates it after every
// mutation so readers never see a stale count.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"civicdesk/api/internal/store"
)

const (
	cacheKey = "analytics:overview"
	cacheTTL = 30 * time.Second

	topIssueCount = 3
)

// Store is the subset of the data store the aggregator reads from.
type Store interface {
	CountIssues(ctx context.Context) (int, error)
	CountsByStatus(ctx context.Context) (store.StatusCounts, error)
	CountsByCategory(ctx context.Context) ([]store.CategoryCount, error)
	TopUpvoted(ctx context.Context, n int) ([]store.TopIssue, error)
}

// StatusBreakdown mirrors the issue lifecycle states.
type StatusBreakdown struct {
	NotAssigned int `json:"notAssigned"`
	Assigned    int `json:"assigned"`
	Resolved    int `json:"resolved"`
}

// CategoryBreakdown is one category's share of all issues.
type CategoryBreakdown struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopIssue is an entry in the most-upvoted list.
type TopIssue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	UpvoteCount int       `json:"upvoteCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Overview is the full analytics payload.
type Overview struct {
	Total       int                 `json:"total"`
	ByStatus    StatusBreakdown     `json:"byStatus"`
	ByCategory  []CategoryBreakdown `json:"byCategory"`
	TopIssues   []TopIssue          `json:"topIssues"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// Aggregator computes overviews. redis may be nil, in which case every
// read goes straight to the store.
type Aggregator struct {
	store Store
	redis *redis.Client
}

// NewAggregator creates an aggregator. Pass a nil redis client to disable caching.
func NewAggregator(st Store, rdb *redis.Client) *Aggregator {
	return &Aggregator{store: st, redis: rdb}
}

// Overview returns the current analytics snapshot, served from cache when fresh.
func (a *Aggregator) Overview(ctx context.Context) (Overview, error) {
	if a.redis != nil {
		raw, err := a.redis.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var cached Overview
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("analytics: cache read: %v", err)
		}
	}

	ov, err := a.compute(ctx)
	if err != nil {
		return Overview{}, err
	}

	if a.redis != nil {
		if raw, err := json.Marshal(ov); err == nil {
			if err := a.redis.Set(ctx, cacheKey, raw, cacheTTL).Err(); err != nil {
				log.Printf("analytics: cache write: %v", err)
			}
		}
	}
	return ov, nil
}

func (a *Aggregator) compute(ctx context.Context) (Overview, error) {
	total, err := a.store.CountIssues(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("count issues: %w", err)
	}

	byStatus, err := a.store.CountsByStatus(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("counts by status: %w", err)
	}

	byCategory, err := a.store.CountsByCategory(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("counts by category: %w", err)
	}

	top, err := a.store.TopUpvoted(ctx, topIssueCount)
	if err != nil {
		return Overview{}, fmt.Errorf("top upvoted: %w", err)
	}

	ov := Overview{
		Total: total,
		ByStatus: StatusBreakdown{
			NotAssigned: byStatus.NotAssigned,
			Assigned:    byStatus.Assigned,
			Resolved:    byStatus.Resolved,
		},
		ByCategory:  make([]CategoryBreakdown, 0, len(byCategory)),
		TopIssues:   make([]TopIssue, 0, len(top)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, c := range byCategory {
		ov.ByCategory = append(ov.ByCategory, CategoryBreakdown{Name: c.Name, Count: c.Count})
	}
	for _, t := range top {
		ov.TopIssues = append(ov.TopIssues, TopIssue{
			ID:          t.ID,
			Title:       t.Title,
			Status:      t.Status,
			UpvoteCount: t.UpvoteCount,
			CreatedAt:   t.CreatedAt,
		})
	}
	return ov, nil
}

// Invalidate drops the cached overview. Called after every issue mutation
// so the next read recomputes from PostgreSQL.
func (a *Aggregator) Invalidate(ctx context.Context) {
	if a.redis == nil {
		return
	}
	if err := a.redis.Del(ctx, cacheKey).Err(); err != nil {
		log.Printf("analytics: cache invalidate: %v", err)
	}
}
