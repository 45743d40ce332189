package txn

import (
	"fmt"
	"time"

	"github.com/lakeline/lakeline/utils/log"
)

// ConcurrencyMode selects how commits are coordinated across writers.
type ConcurrencyMode int

const (
	// SingleWriter assumes exactly one writer exists; conflicts are
	// impossible by construction and no lock is taken.
	SingleWriter ConcurrencyMode = iota
	// OptimisticConcurrencyControl lets writers work unsynchronized and
	// detects conflicts inside a short lock-protected commit section.
	OptimisticConcurrencyControl
)

func ParseConcurrencyMode(s string) (ConcurrencyMode, error) {
	switch s {
	case "", "SINGLE_WRITER":
		return SingleWriter, nil
	case "OPTIMISTIC_CONCURRENCY_CONTROL":
		return OptimisticConcurrencyControl, nil
	}
	return 0, fmt.Errorf("unknown concurrency mode %q", s)
}

// CleaningPolicy controls when a writer's own failed pending instants are
// rolled back. Orthogonal to locking; always explicit configuration.
type CleaningPolicy int

const (
	// CleanEager rolls back the writer's failed instant on the next
	// opportunity.
	CleanEager CleaningPolicy = iota
	// CleanLazy defers rollback to the cleaner service; the failed instant
	// lingers as pending until then.
	CleanLazy
)

func ParseCleaningPolicy(s string) (CleaningPolicy, error) {
	switch s {
	case "", "EAGER":
		return CleanEager, nil
	case "LAZY":
		return CleanLazy, nil
	}
	return 0, fmt.Errorf("unknown cleaning policy %q", s)
}

// LockConfig bounds lock acquisition. Acquisition retries are independent of
// commit-conflict retries.
type LockConfig struct {
	WaitTimeout   time.Duration
	RetryInterval time.Duration
	MaxRetries    int
}

func (c LockConfig) withDefaults() LockConfig {
	if c.WaitTimeout == 0 {
		c.WaitTimeout = 10 * time.Second
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 250 * time.Millisecond
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	return c
}

// TransactionManager wraps a LockProvider so that every writer against the
// same table funnels its commit critical section through the same mutual
// exclusion, whenever more than one writer may commit concurrently.
type TransactionManager struct {
	mode     ConcurrencyMode
	provider LockProvider
	cfg      LockConfig
}

func NewTransactionManager(mode ConcurrencyMode, provider LockProvider, cfg LockConfig) *TransactionManager {
	return &TransactionManager{mode: mode, provider: provider, cfg: cfg.withDefaults()}
}

func (tm *TransactionManager) Mode() ConcurrencyMode { return tm.mode }

// WithinCommitLock runs fn under the table lock. In SingleWriter mode fn
// runs unlocked. Acquisition failure after bounded retries surfaces as
// LockTimeoutError.
func (tm *TransactionManager) WithinCommitLock(fn func() error) error {
	if tm.mode == SingleWriter {
		return fn()
	}
	if err := tm.lock(); err != nil {
		return err
	}
	defer tm.unlock()
	return fn()
}

func (tm *TransactionManager) lock() error {
	for attempt := 1; ; attempt++ {
		ok, err := tm.provider.TryLock(tm.cfg.WaitTimeout)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt >= tm.cfg.MaxRetries {
			return LockTimeoutError(fmt.Sprintf("gave up after %d attempts of %s each",
				attempt, tm.cfg.WaitTimeout))
		}
		log.Warn("table lock attempt %d/%d timed out, retrying in %s",
			attempt, tm.cfg.MaxRetries, tm.cfg.RetryInterval)
		time.Sleep(tm.cfg.RetryInterval)
	}
}

func (tm *TransactionManager) unlock() {
	if err := tm.provider.Unlock(); err != nil {
		log.Error("failed to release table lock: %v", err)
	}
}

// Close releases provider resources (e.g. a ZooKeeper session).
func (tm *TransactionManager) Close() error {
	if tm.provider == nil {
		return nil
	}
	return tm.provider.Close()
}
