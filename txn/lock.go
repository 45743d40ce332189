// Package txn serializes the commit critical section across writers
// operating under optimistic concurrency control, and decides whether a
// candidate commit conflicts with instants completed after the writer's
// read snapshot.
package txn

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"

	"github.com/lakeline/lakeline/storage"
	"github.com/lakeline/lakeline/utils/log"
)

// LockProvider is the pluggable mutual-exclusion primitive guarding the
// commit critical section. TryLock blocks up to timeout and reports whether
// the lock was acquired.
type LockProvider interface {
	TryLock(timeout time.Duration) (bool, error)
	Unlock() error
	Close() error
}

// ---------------------------------------------------------------------------
// In-process provider

var (
	inProcessMu    sync.Mutex
	inProcessLocks = make(map[string]chan struct{})
)

// InProcessLockProvider coordinates writers living in the same process.
// Providers created with the same name share one lock.
type InProcessLockProvider struct {
	name string
	sem  chan struct{}
}

func NewInProcessLockProvider(name string) *InProcessLockProvider {
	inProcessMu.Lock()
	defer inProcessMu.Unlock()
	sem, ok := inProcessLocks[name]
	if !ok {
		sem = make(chan struct{}, 1)
		inProcessLocks[name] = sem
	}
	return &InProcessLockProvider{name: name, sem: sem}
}

func (p *InProcessLockProvider) TryLock(timeout time.Duration) (bool, error) {
	select {
	case p.sem <- struct{}{}:
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (p *InProcessLockProvider) Unlock() error {
	select {
	case <-p.sem:
		return nil
	default:
		return errors.New("unlock of unheld in-process lock " + p.name)
	}
}

func (p *InProcessLockProvider) Close() error { return nil }

// ---------------------------------------------------------------------------
// File-based provider

// FileLockProvider uses create-if-absent on a shared lock file, the same
// atomic primitive the timeline itself is built on. Suitable for writers
// sharing one consistent file store.
type FileLockProvider struct {
	backend       storage.Backend
	lockPath      string
	owner         []byte
	retryInterval time.Duration
}

func NewFileLockProvider(backend storage.Backend, lockPath string) *FileLockProvider {
	return &FileLockProvider{
		backend:       backend,
		lockPath:      lockPath,
		owner:         []byte(uuid.NewString()),
		retryInterval: 100 * time.Millisecond,
	}
}

func (p *FileLockProvider) TryLock(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		err := p.backend.CreateIfAbsent(p.lockPath, p.owner)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return false, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(p.retryInterval)
	}
}

func (p *FileLockProvider) Unlock() error {
	data, err := p.backend.Read(p.lockPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return errors.New("unlock: lock file missing " + p.lockPath)
		}
		return err
	}
	if !bytes.Equal(data, p.owner) {
		return errors.New("unlock: lock " + p.lockPath + " held by another writer")
	}
	return p.backend.Delete(p.lockPath)
}

func (p *FileLockProvider) Close() error { return nil }

// ---------------------------------------------------------------------------
// ZooKeeper provider

// ZooKeeperLockProvider holds an ephemeral znode; the lock dies with the
// session, so a crashed writer never wedges the table.
type ZooKeeperLockProvider struct {
	conn          *zk.Conn
	lockPath      string
	retryInterval time.Duration
}

func NewZooKeeperLockProvider(servers []string, lockPath string,
	sessionTimeout time.Duration,
) (*ZooKeeperLockProvider, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, err
	}
	return &ZooKeeperLockProvider{
		conn:          conn,
		lockPath:      lockPath,
		retryInterval: 100 * time.Millisecond,
	}, nil
}

func (p *ZooKeeperLockProvider) TryLock(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		_, err := p.conn.Create(p.lockPath, []byte{}, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, zk.ErrNodeExists) {
			return false, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(p.retryInterval)
	}
}

func (p *ZooKeeperLockProvider) Unlock() error {
	err := p.conn.Delete(p.lockPath, -1)
	if errors.Is(err, zk.ErrNoNode) {
		log.Warn("zookeeper lock %s already released", p.lockPath)
		return nil
	}
	return err
}

func (p *ZooKeeperLockProvider) Close() error {
	p.conn.Close()
	return nil
}
