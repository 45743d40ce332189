package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeline/lakeline/meta"
	"github.com/lakeline/lakeline/services"
	"github.com/lakeline/lakeline/storage"
	"github.com/lakeline/lakeline/timeline"
	"github.com/lakeline/lakeline/txn"
)

func setupTable(t *testing.T, tableType meta.TableType) *meta.MetaClient {
	t.Helper()

	client, err := meta.Init(storage.NewLocalBackend(), t.TempDir(),
		meta.DefaultTableConfig("trips", tableType))
	require.NoError(t, err)
	return client
}

func commit(t *testing.T, client *meta.MetaClient, action timeline.Action) string {
	t.Helper()

	active, err := client.GetActiveTimeline()
	require.NoError(t, err)
	ts := timeline.NewTimestamp()
	requested, err := active.CreateRequested(action, ts, nil)
	require.NoError(t, err)
	inflight, err := active.TransitionRequestedToInflight(requested, nil)
	require.NoError(t, err)
	md := timeline.NewCommitMetadata()
	md.AddWriteStat("p", timeline.WriteStat{FileID: "f-" + ts, NumWrites: 1})
	payload, err := md.Marshal()
	require.NoError(t, err)
	_, err = active.SaveAsComplete(inflight, payload)
	require.NoError(t, err)
	return ts
}

func singleWriterTxn() *txn.TransactionManager {
	return txn.NewTransactionManager(txn.SingleWriter, nil, txn.LockConfig{})
}

func replacedGroupsExecutor() services.Executor {
	return services.ExecutorFunc(func(planTs string, plan []byte) (*timeline.CommitMetadata, error) {
		md := timeline.NewCommitMetadata()
		md.AddWriteStat("p", timeline.WriteStat{FileID: "merged-" + planTs, NumWrites: 2})
		return md, nil
	})
}

func TestScheduleBelowThreshold(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)
	commit(t, client, timeline.ActionCommit)

	s := services.NewScheduler("clustering", client, singleWriterTxn(),
		&services.ClusteringPlanner{CommitsBeforeClustering: 3},
		replacedGroupsExecutor(), services.Config{})

	_, ok, err := s.Schedule()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduleAndExecuteClusteringPlan(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)
	commit(t, client, timeline.ActionCommit)
	commit(t, client, timeline.ActionCommit)

	s := services.NewScheduler("clustering", client, singleWriterTxn(),
		&services.ClusteringPlanner{CommitsBeforeClustering: 2},
		replacedGroupsExecutor(), services.Config{})

	ts, ok, err := s.Schedule()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Execute(ts))

	active, err := client.ReloadActiveTimeline()
	require.NoError(t, err)
	done := timeline.NewInstant(timeline.ActionReplaceCommit, timeline.StateCompleted, ts)
	require.True(t, active.ContainsInstant(done))

	md, err := active.GetCommitMetadata(done)
	require.NoError(t, err)
	assert.Equal(t, int64(2), md.TotalRecordsWritten())

	// No second plan while nothing new landed: the replace commit itself is
	// the new watermark.
	_, ok, err = s.Schedule()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSchedulerSkipsWhilePlanPending(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)
	commit(t, client, timeline.ActionCommit)
	commit(t, client, timeline.ActionCommit)

	s := services.NewScheduler("clustering", client, singleWriterTxn(),
		&services.ClusteringPlanner{CommitsBeforeClustering: 2},
		replacedGroupsExecutor(), services.Config{})

	_, ok, err := s.Schedule()
	require.NoError(t, err)
	require.True(t, ok)

	// The unexecuted plan blocks a second one.
	_, ok, err = s.Schedule()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailedExecutionLeftInflight(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)
	commit(t, client, timeline.ActionCommit)
	commit(t, client, timeline.ActionCommit)

	failing := services.ExecutorFunc(func(string, []byte) (*timeline.CommitMetadata, error) {
		return nil, assert.AnError
	})
	s := services.NewScheduler("clustering", client, singleWriterTxn(),
		&services.ClusteringPlanner{CommitsBeforeClustering: 2},
		failing, services.Config{})

	ts, ok, err := s.Schedule()
	require.NoError(t, err)
	require.True(t, ok)
	require.ErrorIs(t, s.Execute(ts), assert.AnError)

	active, err := client.ReloadActiveTimeline()
	require.NoError(t, err)
	inflight := timeline.NewInstant(timeline.ActionReplaceCommit, timeline.StateInflight, ts)
	assert.True(t, active.ContainsInstant(inflight))
	assert.False(t, active.ContainsInstant(
		timeline.NewInstant(timeline.ActionReplaceCommit, timeline.StateCompleted, ts)))
}

func TestRetryLastFailedReusesTimestamp(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)
	commit(t, client, timeline.ActionCommit)
	commit(t, client, timeline.ActionCommit)

	failing := services.ExecutorFunc(func(string, []byte) (*timeline.CommitMetadata, error) {
		return nil, assert.AnError
	})
	s := services.NewScheduler("clustering", client, singleWriterTxn(),
		&services.ClusteringPlanner{CommitsBeforeClustering: 2},
		failing, services.Config{})

	planTs, ok, err := s.Schedule()
	require.NoError(t, err)
	require.True(t, ok)
	require.Error(t, s.Execute(planTs))

	retrier := services.NewScheduler("clustering", client, singleWriterTxn(),
		&services.ClusteringPlanner{CommitsBeforeClustering: 2},
		replacedGroupsExecutor(), services.Config{RetryLastFailed: true})

	retriedTs, ok, err := retrier.RetryLastFailed()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, planTs, retriedTs)

	active, err := client.ReloadActiveTimeline()
	require.NoError(t, err)
	assert.True(t, active.ContainsInstant(
		timeline.NewInstant(timeline.ActionReplaceCommit, timeline.StateCompleted, planTs)))
}

func TestRetryDisabledSchedulesNewPlanPastFailedOne(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)
	commit(t, client, timeline.ActionCommit)
	commit(t, client, timeline.ActionCommit)

	failing := services.ExecutorFunc(func(string, []byte) (*timeline.CommitMetadata, error) {
		return nil, assert.AnError
	})
	s := services.NewScheduler("clustering", client, singleWriterTxn(),
		&services.ClusteringPlanner{CommitsBeforeClustering: 2},
		failing, services.Config{})

	failedTs, ok, err := s.Schedule()
	require.NoError(t, err)
	require.True(t, ok)
	require.Error(t, s.Execute(failedTs))

	// With retry disabled, the next run plans under a fresh timestamp
	// instead of resuming the inflight leftover.
	fresh := services.NewScheduler("clustering", client, singleWriterTxn(),
		&services.ClusteringPlanner{CommitsBeforeClustering: 2},
		replacedGroupsExecutor(), services.Config{})
	require.NoError(t, fresh.RunOnce(context.Background()))

	active, err := client.ReloadActiveTimeline()
	require.NoError(t, err)
	completed := active.FilterByActions(timeline.ActionReplaceCommit).FilterCompletedInstants()
	require.Equal(t, 1, completed.CountInstants())
	done, _ := completed.LastInstant()
	assert.NotEqual(t, failedTs, done.Timestamp)
	assert.Greater(t, done.Timestamp, failedTs)

	// The failed plan lingers inflight until rolled back out of band.
	assert.True(t, active.ContainsInstant(
		timeline.NewInstant(timeline.ActionReplaceCommit, timeline.StateInflight, failedTs)))
}

func TestRetryLastFailedNothingToRetry(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)

	s := services.NewScheduler("clustering", client, singleWriterTxn(),
		&services.ClusteringPlanner{CommitsBeforeClustering: 2},
		replacedGroupsExecutor(), services.Config{RetryLastFailed: true})

	_, ok, err := s.RetryLastFailed()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunOnceSchedulesAndExecutes(t *testing.T) {
	client := setupTable(t, meta.MergeOnRead)
	commit(t, client, timeline.ActionDeltaCommit)
	commit(t, client, timeline.ActionDeltaCommit)

	s := services.NewScheduler("compaction", client, singleWriterTxn(),
		&services.CompactionPlanner{DeltaCommitsBeforeCompaction: 2},
		replacedGroupsExecutor(), services.Config{})

	require.NoError(t, s.RunOnce(context.Background()))

	active, err := client.ReloadActiveTimeline()
	require.NoError(t, err)
	compactions := active.FilterByActions(timeline.ActionCompaction).FilterCompletedInstants()
	assert.Equal(t, 1, compactions.CountInstants())
}

func TestIndexingPlannerTriggersOnNewCommits(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)

	s := services.NewScheduler("indexing", client, singleWriterTxn(),
		&services.IndexingPlanner{}, replacedGroupsExecutor(), services.Config{})

	// Nothing to index on an empty table.
	_, ok, err := s.Schedule()
	require.NoError(t, err)
	require.False(t, ok)

	commit(t, client, timeline.ActionCommit)
	require.NoError(t, s.RunOnce(context.Background()))

	// The indexing run is the watermark; no new plan until more commits land.
	_, ok, err = s.Schedule()
	require.NoError(t, err)
	assert.False(t, ok)

	commit(t, client, timeline.ActionCommit)
	_, ok, err = s.Schedule()
	require.NoError(t, err)
	assert.True(t, ok)
}
