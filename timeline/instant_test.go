package timeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeline/lakeline/timeline"
)

func TestInstantFileName(t *testing.T) {
	tests := map[string]struct {
		instant timeline.Instant
		want    string
	}{
		"requested commit": {
			instant: timeline.NewInstant(timeline.ActionCommit, timeline.StateRequested, "20260101000000001"),
			want:    "20260101000000001.commit.requested",
		},
		"inflight deltacommit": {
			instant: timeline.NewInstant(timeline.ActionDeltaCommit, timeline.StateInflight, "20260101000000002"),
			want:    "20260101000000002.deltacommit.inflight",
		},
		"completed replacecommit": {
			instant: timeline.NewInstant(timeline.ActionReplaceCommit, timeline.StateCompleted, "20260101000000003"),
			want:    "20260101000000003.replacecommit",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.instant.FileName())

			parsed, ok := timeline.ParseInstantFileName(tt.want)
			require.True(t, ok)
			assert.Equal(t, tt.instant.Action, parsed.Action)
			assert.Equal(t, tt.instant.State, parsed.State)
			assert.Equal(t, tt.instant.Timestamp, parsed.Timestamp)
		})
	}
}

func TestParseInstantFileNameRejectsNonInstantFiles(t *testing.T) {
	for _, name := range []string{
		"table.properties",
		".a1b2c3.tmp",
		"20260101000000001.bogusaction",
		"noextension",
		".commit",
	} {
		_, ok := timeline.ParseInstantFileName(name)
		assert.False(t, ok, "expected %q to be rejected", name)
	}
}

func TestNewTimestampMonotonic(t *testing.T) {
	prev := timeline.NewTimestamp()
	require.Len(t, prev, 17)
	for i := 0; i < 1000; i++ {
		ts := timeline.NewTimestamp()
		assert.Len(t, ts, 17)
		assert.Greater(t, ts, prev)
		prev = ts
	}
}

func TestTimelineOrderingAndProjections(t *testing.T) {
	tl := timeline.NewTimeline([]timeline.Instant{
		timeline.NewInstant(timeline.ActionCommit, timeline.StateCompleted, "003"),
		timeline.NewInstant(timeline.ActionDeltaCommit, timeline.StateInflight, "004"),
		timeline.NewInstant(timeline.ActionCommit, timeline.StateCompleted, "001"),
		timeline.NewInstant(timeline.ActionClean, timeline.StateCompleted, "002"),
		timeline.NewInstant(timeline.ActionReplaceCommit, timeline.StateRequested, "005"),
		timeline.NewInstant(timeline.ActionCompaction, timeline.StateRequested, "006"),
	})

	first, ok := tl.FirstInstant()
	require.True(t, ok)
	assert.Equal(t, "001", first.Timestamp)

	last, ok := tl.LastInstant()
	require.True(t, ok)
	assert.Equal(t, "006", last.Timestamp)

	assert.Equal(t, 6, tl.CountInstants())
	assert.Equal(t, 3, tl.FilterCompletedInstants().CountInstants())
	assert.Equal(t, 3, tl.FilterPendingInstants().CountInstants())
	assert.Equal(t, 2, tl.FilterPendingExcludingCompaction().CountInstants())
	assert.Equal(t, 1, tl.FilterPendingReplaceTimeline().CountInstants())

	// Commit projection excludes clean and deltacommit.
	assert.Equal(t, 3, tl.GetCommitTimeline().CountInstants())
	assert.Equal(t, 4, tl.GetCommitsTimeline().CountInstants())
	assert.Equal(t, 5, tl.GetWriteTimeline().CountInstants())

	assert.Equal(t, 2, tl.FilterCompletedAfter("001").CountInstants())
	assert.True(t, tl.ContainsTimestamp("005"))
	assert.False(t, tl.ContainsTimestamp("007"))
}

func TestTimelineNthFromLast(t *testing.T) {
	tl := timeline.NewTimeline([]timeline.Instant{
		timeline.NewInstant(timeline.ActionCommit, timeline.StateCompleted, "001"),
		timeline.NewInstant(timeline.ActionCommit, timeline.StateCompleted, "002"),
	})
	in, ok := tl.NthFromLastInstant(0)
	require.True(t, ok)
	assert.Equal(t, "002", in.Timestamp)

	in, ok = tl.NthFromLastInstant(1)
	require.True(t, ok)
	assert.Equal(t, "001", in.Timestamp)

	_, ok = tl.NthFromLastInstant(2)
	assert.False(t, ok)
}

func TestContainsInstantStatePrecedence(t *testing.T) {
	tl := timeline.NewTimeline([]timeline.Instant{
		timeline.NewInstant(timeline.ActionCommit, timeline.StateInflight, "001"),
	})

	// An inflight instant satisfies lookups at or below its state.
	assert.True(t, tl.ContainsInstant(timeline.NewInstant(timeline.ActionCommit, timeline.StateRequested, "001")))
	assert.True(t, tl.ContainsInstant(timeline.NewInstant(timeline.ActionCommit, timeline.StateInflight, "001")))
	assert.False(t, tl.ContainsInstant(timeline.NewInstant(timeline.ActionCommit, timeline.StateCompleted, "001")))
	assert.False(t, tl.ContainsInstant(timeline.NewInstant(timeline.ActionClean, timeline.StateRequested, "001")))
}
