// Package services schedules and executes table services — clustering,
// compaction, indexing — as independent logical writers against the same
// timeline. Each plan goes through request, inflight and completed states,
// and completion funnels through the shared transaction manager whenever
// services run concurrently with ingestion.
package services

import (
	"context"
	"errors"

	"github.com/lakeline/lakeline/meta"
	"github.com/lakeline/lakeline/timeline"
	"github.com/lakeline/lakeline/txn"
	"github.com/lakeline/lakeline/utils/log"
)

// Planner decides whether a service's trigger thresholds are met and builds
// the plan payload written into the REQUESTED instant.
type Planner interface {
	Action() timeline.Action
	BuildPlan(active *timeline.ActiveTimeline) (plan []byte, needed bool, err error)
}

// Executor applies a plan; the physical rewrite (file merging, layout
// rewriting, index building) is an external collaborator.
type Executor interface {
	Execute(planTs string, plan []byte) (*timeline.CommitMetadata, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(planTs string, plan []byte) (*timeline.CommitMetadata, error)

func (f ExecutorFunc) Execute(planTs string, plan []byte) (*timeline.CommitMetadata, error) {
	return f(planTs, plan)
}

// Config controls a single service scheduler.
type Config struct {
	// RetryLastFailed re-executes an existing inflight plan under its
	// original timestamp instead of scheduling a fresh plan under a new one.
	RetryLastFailed bool
}

// Scheduler drives one table service through schedule, execute and
// retry-of-last-failed.
type Scheduler struct {
	name     string
	client   *meta.MetaClient
	txm      *txn.TransactionManager
	resolver txn.ConflictResolver
	planner  Planner
	executor Executor
	cfg      Config
}

func NewScheduler(name string, client *meta.MetaClient, txm *txn.TransactionManager,
	planner Planner, executor Executor, cfg Config,
) *Scheduler {
	return &Scheduler{
		name:     name,
		client:   client,
		txm:      txm,
		planner:  planner,
		executor: executor,
		cfg:      cfg,
	}
}

func (s *Scheduler) Name() string { return s.name }

// Schedule writes a REQUESTED plan instant if the service's thresholds are
// met. Returns the new plan's timestamp, or ok=false when no action is
// needed.
func (s *Scheduler) Schedule() (ts string, ok bool, err error) {
	active, err := s.client.ReloadActiveTimeline()
	if err != nil {
		return "", false, err
	}
	plan, needed, err := s.planner.BuildPlan(active)
	if err != nil || !needed {
		return "", false, err
	}
	ts = timeline.NewTimestamp()
	if _, err := active.CreateRequested(s.planner.Action(), ts, plan); err != nil {
		return "", false, err
	}
	log.Info("%s service scheduled plan %s", s.name, ts)
	return ts, true, nil
}

// Execute transitions the plan REQUESTED -> INFLIGHT -> COMPLETED. A failing
// executor leaves the instant INFLIGHT, visible as pending, rather than
// silently discarding it.
func (s *Scheduler) Execute(planTs string) error {
	active, err := s.client.ReloadActiveTimeline()
	if err != nil {
		return err
	}
	requested := timeline.NewInstant(s.planner.Action(), timeline.StateRequested, planTs)
	plan, err := active.ReadInstantDetails(requested)
	if err != nil {
		return err
	}
	// The plan travels with the instant so a later revert can recover it.
	inflight, err := active.TransitionRequestedToInflight(requested, plan)
	if err != nil {
		return err
	}
	return s.executeInflight(active, inflight, plan)
}

func (s *Scheduler) executeInflight(active *timeline.ActiveTimeline, inflight timeline.Instant,
	plan []byte,
) error {
	snapshot := active.Timeline
	md, err := s.executor.Execute(inflight.Timestamp, plan)
	if err != nil {
		log.Error("%s plan %s failed inflight, left pending for retry: %v", s.name, inflight.Timestamp, err)
		return err
	}
	payload, err := md.Marshal()
	if err != nil {
		return err
	}
	return s.txm.WithinCommitLock(func() error {
		reloaded, err := active.Reload()
		if err != nil {
			return err
		}
		if s.txm.Mode() == txn.OptimisticConcurrencyControl {
			if err := s.resolver.CheckCommit(reloaded, snapshot, inflight.Timestamp, md); err != nil {
				return err
			}
		}
		_, err = reloaded.SaveAsComplete(inflight, payload)
		return err
	})
}

// RetryLastFailed finds an inflight plan with no completed instant for the
// same timestamp, rolls it back to REQUESTED, and re-executes it under the
// same timestamp. Returns ok=false when there is nothing to retry.
func (s *Scheduler) RetryLastFailed() (ts string, ok bool, err error) {
	active, err := s.client.ReloadActiveTimeline()
	if err != nil {
		return "", false, err
	}
	inflight, found := s.findLastInflight(active)
	if !found {
		return "", false, nil
	}
	requested, err := active.RevertToRequested(inflight)
	if err != nil {
		return "", false, err
	}
	log.Info("%s service retrying failed plan %s under the same timestamp", s.name, requested.Timestamp)
	if err := s.Execute(requested.Timestamp); err != nil {
		return "", false, err
	}
	return requested.Timestamp, true, nil
}

func (s *Scheduler) findLastInflight(active *timeline.ActiveTimeline) (timeline.Instant, bool) {
	pending := active.FilterByActions(s.planner.Action()).FilterPendingInstants()
	for n := 0; ; n++ {
		in, ok := pending.NthFromLastInstant(n)
		if !ok {
			return timeline.Instant{}, false
		}
		if in.IsInflight() &&
			!active.ContainsInstant(timeline.NewInstant(in.Action, timeline.StateCompleted, in.Timestamp)) {
			return in, true
		}
	}
}

// RunOnce is the between-cycles entry point the orchestrator triggers: retry
// the last failed plan when configured, otherwise schedule-and-execute a new
// one if thresholds are met.
func (s *Scheduler) RunOnce(_ context.Context) error {
	if s.cfg.RetryLastFailed {
		if ts, ok, err := s.RetryLastFailed(); err != nil {
			return err
		} else if ok {
			log.Info("%s service completed retried plan %s", s.name, ts)
			return nil
		}
	}
	ts, ok, err := s.Schedule()
	if err != nil || !ok {
		return err
	}
	if err := s.Execute(ts); err != nil {
		// Already-executed plans can race a concurrent writer of the same
		// service; treat a conflicting transition as done.
		var conflict timeline.ConflictError
		if errors.As(err, &conflict) {
			log.Warn("%s plan %s raced another writer: %v", s.name, ts, err)
			return nil
		}
		return err
	}
	return nil
}
