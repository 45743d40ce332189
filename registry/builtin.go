package registry

import (
	"errors"
	"strings"
	"time"

	"github.com/lakeline/lakeline/ingest"
	"github.com/lakeline/lakeline/storage"
	"github.com/lakeline/lakeline/txn"
)

// Built-in strategy names resolvable without any extra registration.
const (
	LockInProcess        = "inprocess"
	LockFile             = "file"
	LockZooKeeper        = "zookeeper"
	TerminationNoNewData = "noNewData"
)

// nolint:gochecknoinits // factories must be resolvable before any config is parsed
func init() {
	RegisterLockProvider(LockInProcess, newInProcessLock)
	RegisterLockProvider(LockFile, newFileLock)
	RegisterLockProvider(LockZooKeeper, newZooKeeperLock)
	RegisterTerminationStrategy(TerminationNoNewData, newNoNewDataTermination)
}

func newInProcessLock(config map[string]interface{}) (txn.LockProvider, error) {
	var settings struct {
		Name string `json:"name"`
	}
	if err := Recast(config, &settings); err != nil {
		return nil, err
	}
	if settings.Name == "" {
		return nil, errors.New("inprocess lock provider requires a name")
	}
	return txn.NewInProcessLockProvider(settings.Name), nil
}

func newFileLock(config map[string]interface{}) (txn.LockProvider, error) {
	var settings struct {
		Path string `json:"path"`
	}
	if err := Recast(config, &settings); err != nil {
		return nil, err
	}
	if settings.Path == "" {
		return nil, errors.New("file lock provider requires a path")
	}
	return txn.NewFileLockProvider(storage.NewLocalBackend(), settings.Path), nil
}

func newZooKeeperLock(config map[string]interface{}) (txn.LockProvider, error) {
	var settings struct {
		Servers          string `json:"servers"`
		Path             string `json:"path"`
		SessionTimeoutMs int    `json:"session_timeout_ms"`
	}
	if err := Recast(config, &settings); err != nil {
		return nil, err
	}
	if settings.Servers == "" || settings.Path == "" {
		return nil, errors.New("zookeeper lock provider requires servers and a path")
	}
	if settings.SessionTimeoutMs == 0 {
		settings.SessionTimeoutMs = 10000
	}
	return txn.NewZooKeeperLockProvider(
		strings.Split(settings.Servers, ","),
		settings.Path,
		time.Duration(settings.SessionTimeoutMs)*time.Millisecond,
	)
}

func newNoNewDataTermination(config map[string]interface{}) (ingest.TerminationStrategy, error) {
	var settings struct {
		MaxRoundsWithoutData int `json:"max_rounds_without_data"`
	}
	if err := Recast(config, &settings); err != nil {
		return nil, err
	}
	if settings.MaxRoundsWithoutData == 0 {
		settings.MaxRoundsWithoutData = 3
	}
	return &ingest.NoNewDataTerminationStrategy{
		MaxRoundsWithoutData: settings.MaxRoundsWithoutData,
	}, nil
}
