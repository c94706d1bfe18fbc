package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RecordAssignsUniqueIDs(t *testing.T) {
	store := NewStore()

	// Burst of records well inside one clock tick.
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		e := store.Record(IssueAnalyzed, 7, &IssueAnalyzedPayload{IssueNumber: 7})
		require.False(t, e.ID.IsZero())
		assert.False(t, seen[e.ID.String()], "duplicate event ID %s", e.ID)
		seen[e.ID.String()] = true
	}
}

func TestStore_TimestampsNeverRegress(t *testing.T) {
	store := NewStore()

	var prev Timestamp
	for i := 0; i < 1000; i++ {
		e := store.Record(IssueAnalyzed, 1, &IssueAnalyzedPayload{IssueNumber: 1})
		if i > 0 {
			assert.True(t, e.Timestamp.After(prev),
				"timestamp %s not after %s", e.Timestamp, prev)
		}
		prev = e.Timestamp
	}
}

func TestStore_EventsReturnsRecordingOrder(t *testing.T) {
	store := NewStore()

	types := []EventType{IssueSelected, IssueAnalyzed, PlanGenerated, PlanApproved}
	for _, et := range types {
		store.Record(et, 12, nil)
	}

	got := store.Events()
	require.Len(t, got, len(types))
	for i, et := range types {
		assert.Equal(t, et, got[i].Type)
	}
}

func TestStore_EventsForIssueFilters(t *testing.T) {
	store := NewStore()

	store.Record(IssueSelected, 1, nil)
	store.Record(IssueSelected, 2, nil)
	store.Record(IssueAnalyzed, 1, nil)
	store.Record(ErrorOccurred, 0, nil)

	one := store.EventsForIssue(1)
	require.Len(t, one, 2)
	assert.Equal(t, IssueSelected, one[0].Type)
	assert.Equal(t, IssueAnalyzed, one[1].Type)

	assert.Len(t, store.EventsForIssue(2), 1)
	assert.Empty(t, store.EventsForIssue(99))
}

func TestStore_LastOfType(t *testing.T) {
	store := NewStore()

	_, ok := store.LastOfType(PlanGenerated)
	assert.False(t, ok)

	store.Record(PlanGenerated, 3, &PlanGeneratedPayload{
		Plan: DevelopmentPlan{IssueNumber: 3},
	})
	store.Record(IssueAnalyzed, 4, nil)
	last := store.Record(PlanGenerated, 4, &PlanGeneratedPayload{
		Plan: DevelopmentPlan{IssueNumber: 4},
	})

	got, ok := store.LastOfType(PlanGenerated)
	require.True(t, ok)
	assert.Equal(t, last.ID, got.ID)
	assert.Equal(t, 4, got.IssueNumber)
}

func TestStore_ReadsAreIndependentCopies(t *testing.T) {
	store := NewStore()
	store.Record(IssueSelected, 1, nil)
	store.Record(IssueAnalyzed, 1, nil)

	got := store.Events()
	got[0].Type = ErrorOccurred
	got[0].IssueNumber = 999

	fresh := store.Events()
	require.Len(t, fresh, 2)
	assert.Equal(t, IssueSelected, fresh[0].Type)
	assert.Equal(t, 1, fresh[0].IssueNumber)
}

func TestStore_Clear(t *testing.T) {
	store := NewStore()
	before := store.Record(IssueSelected, 1, nil)

	store.Clear()
	assert.Zero(t, store.Len())
	assert.Empty(t, store.Events())

	// The clock survives a clear: new timestamps still move forward.
	after := store.Record(IssueSelected, 1, nil)
	assert.True(t, after.Timestamp.After(before.Timestamp))
}

func TestStore_ConcurrentRecords(t *testing.T) {
	store := NewStore()

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(issue int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				store.Record(IssueAnalyzed, issue, &IssueAnalyzedPayload{IssueNumber: issue})
			}
		}(g + 1)
	}
	for g := 0; g < 8; g++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for writers")
		}
	}

	all := store.Events()
	require.Len(t, all, 8*200)

	ids := make(map[string]bool, len(all))
	for i, e := range all {
		assert.False(t, ids[e.ID.String()], "duplicate ID at index %d", i)
		ids[e.ID.String()] = true
		if i > 0 {
			assert.False(t, all[i-1].Timestamp.After(e.Timestamp),
				"timestamps out of order at index %d", i)
		}
	}
}
