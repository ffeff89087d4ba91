package verification

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedWaiting inserts a process stuck in more_info_requested with the given
// deadline.
func seedWaiting(t *testing.T, store *MemoryStore, deadline time.Time, createdAt time.Time) *Process {
	t.Helper()
	p := &Process{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: StatusMoreInfoRequested,
		History: []StatusChange{
			{To: StatusPending},
			{To: StatusInReview},
			{To: StatusMoreInfoRequested, RequiredFields: []string{"license"}, Deadline: &deadline},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Version:   2,
	}
	require.NoError(t, store.Create(context.Background(), p))
	return p
}

// The overdue predicate must be resolved over the whole filtered set before
// counting and paging, not per page: matching rows on later pages still count,
// and non-matching rows never inflate the total.
func TestListOverdueCountsBeforePagination(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	future := now.Add(72 * time.Hour)
	past := now.Add(-time.Hour)

	// 30 waiting processes, the 3 oldest of which are overdue: with newest
	// first ordering the overdue ones sit beyond the first page.
	var overdueIDs []uuid.UUID
	for i := 0; i < 30; i++ {
		deadline := future
		if i < 3 {
			deadline = past
		}
		p := seedWaiting(t, store, deadline, now.Add(-time.Duration(30-i)*time.Minute))
		if i < 3 {
			overdueIDs = append(overdueIDs, p.ID)
		}
	}

	overdue := true
	page, total, err := store.List(context.Background(), &ProcessFilters{
		Overdue: &overdue, Page: 1, PageSize: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 3)
	for _, p := range page {
		assert.Contains(t, overdueIDs, p.ID)
	}

	notOverdue := false
	page, total, err = store.List(context.Background(), &ProcessFilters{
		Overdue: &notOverdue, Page: 2, PageSize: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 27, total)
	assert.Len(t, page, 7, "second page carries the remainder")
}

func TestPaginateProcesses(t *testing.T) {
	var processes []*Process
	for i := 0; i < 7; i++ {
		processes = append(processes, &Process{ID: uuid.New()})
	}

	cases := []struct {
		name           string
		page, pageSize int
		want           int
	}{
		{"first page", 1, 3, 3},
		{"middle page", 2, 3, 3},
		{"trailing partial page", 3, 3, 1},
		{"past the end", 4, 3, 0},
		{"zero page clamps to first", 0, 3, 3},
		{"non-positive size returns all", 1, 0, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := paginateProcesses(processes, tc.page, tc.pageSize)
			assert.Len(t, got, tc.want)
		})
	}

	// Pages must tile the input without overlap.
	seen := map[uuid.UUID]bool{}
	for page := 1; page <= 3; page++ {
		for _, p := range paginateProcesses(processes, page, 3) {
			require.False(t, seen[p.ID], fmt.Sprintf("process repeated on page %d", page))
			seen[p.ID] = true
		}
	}
	assert.Len(t, seen, 7)
}
