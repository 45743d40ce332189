package storage

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lakeline/lakeline/utils/log"
)

// RetryConfig bounds the retrying decorator. Zero values fall back to the
// defaults below.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

const (
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
	defaultMaxElapsedTime  = 30 * time.Second
)

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialInterval == 0 {
		c.InitialInterval = defaultInitialInterval
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = defaultMaxInterval
	}
	if c.MaxElapsedTime == 0 {
		c.MaxElapsedTime = defaultMaxElapsedTime
	}
	return c
}

// RetryingBackend re-issues operations that fail with a TransientError,
// using exponential backoff up to MaxElapsedTime. Everything else passes
// through untouched, so coordination errors like ErrAlreadyExists keep
// their meaning.
type RetryingBackend struct {
	inner Backend
	cfg   RetryConfig
}

func NewRetryingBackend(inner Backend, cfg RetryConfig) *RetryingBackend {
	return &RetryingBackend{inner: inner, cfg: cfg.withDefaults()}
}

func (b *RetryingBackend) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.InitialInterval
	bo.MaxInterval = b.cfg.MaxInterval
	bo.MaxElapsedTime = b.cfg.MaxElapsedTime
	return bo
}

func (b *RetryingBackend) retry(op string, fn func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		attempt++
		log.Warn("storage %s failed transiently (attempt %d), retrying: %v", op, attempt, err)
		return err
	}, b.newBackOff())
}

func (b *RetryingBackend) List(dir string) ([]string, error) {
	var names []string
	err := b.retry("list", func() error {
		var err error
		names, err = b.inner.List(dir)
		return err
	})
	return names, err
}

func (b *RetryingBackend) Exists(path string) (bool, error) {
	var ok bool
	err := b.retry("exists", func() error {
		var err error
		ok, err = b.inner.Exists(path)
		return err
	})
	return ok, err
}

func (b *RetryingBackend) MkdirAll(path string) error {
	return b.retry("mkdir", func() error { return b.inner.MkdirAll(path) })
}

func (b *RetryingBackend) CreateIfAbsent(path string, data []byte) error {
	return b.retry("create", func() error { return b.inner.CreateIfAbsent(path, data) })
}

func (b *RetryingBackend) WriteAtomic(path string, data []byte) error {
	return b.retry("write", func() error { return b.inner.WriteAtomic(path, data) })
}

func (b *RetryingBackend) Read(path string) ([]byte, error) {
	var data []byte
	err := b.retry("read", func() error {
		var err error
		data, err = b.inner.Read(path)
		return err
	})
	return data, err
}

func (b *RetryingBackend) Append(path string, data []byte) error {
	return b.retry("append", func() error { return b.inner.Append(path, data) })
}

func (b *RetryingBackend) Rename(oldPath, newPath string) error {
	return b.retry("rename", func() error { return b.inner.Rename(oldPath, newPath) })
}

func (b *RetryingBackend) Delete(path string) error {
	return b.retry("delete", func() error { return b.inner.Delete(path) })
}
