package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeline/lakeline/ingest"
	"github.com/lakeline/lakeline/registry"
	"github.com/lakeline/lakeline/timeline"
)

func TestResolveUnknownName(t *testing.T) {
	var unknown registry.UnknownNameError

	_, err := registry.ResolveSource("nope", nil)
	assert.ErrorAs(t, err, &unknown)
	_, err = registry.ResolveTransformer("nope", nil)
	assert.ErrorAs(t, err, &unknown)
	_, err = registry.ResolveLockProvider("nope", nil)
	assert.ErrorAs(t, err, &unknown)
	_, err = registry.ResolveTerminationStrategy("nope", nil)
	assert.ErrorAs(t, err, &unknown)
	_, err = registry.ResolveBatchWriter("nope", nil)
	assert.ErrorAs(t, err, &unknown)
	_, err = registry.ResolveServiceExecutor("nope", nil)
	assert.ErrorAs(t, err, &unknown)
}

func TestRegisterAndResolve(t *testing.T) {
	registry.RegisterBatchWriter("test-null-writer", func(config map[string]interface{}) (ingest.BatchWriter, error) {
		return nullWriter{}, nil
	})

	w, err := registry.ResolveBatchWriter("test-null-writer", nil)
	require.NoError(t, err)
	assert.NotNil(t, w)
}

type nullWriter struct{}

func (nullWriter) Write(string, *ingest.Batch) (map[string][]timeline.WriteStat, error) {
	return map[string][]timeline.WriteStat{}, nil
}

func TestBuiltinInProcessLock(t *testing.T) {
	provider, err := registry.ResolveLockProvider(registry.LockInProcess,
		map[string]interface{}{"name": t.Name()})
	require.NoError(t, err)
	defer provider.Close()

	ok, err := provider.TryLock(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, provider.Unlock())

	// Missing name is a configuration error.
	_, err = registry.ResolveLockProvider(registry.LockInProcess, nil)
	assert.Error(t, err)
}

func TestBuiltinFileLockRequiresPath(t *testing.T) {
	_, err := registry.ResolveLockProvider(registry.LockFile, map[string]interface{}{})
	assert.Error(t, err)
}

func TestBuiltinNoNewDataTermination(t *testing.T) {
	strategy, err := registry.ResolveTerminationStrategy(registry.TerminationNoNewData,
		map[string]interface{}{"max_rounds_without_data": 1})
	require.NoError(t, err)

	assert.True(t, strategy.ShouldShutdown(&ingest.SyncResult{Status: ingest.StatusNoOp}))

	// Default threshold of 3 idle rounds when unconfigured.
	strategy, err = registry.ResolveTerminationStrategy(registry.TerminationNoNewData, nil)
	require.NoError(t, err)
	assert.False(t, strategy.ShouldShutdown(&ingest.SyncResult{Status: ingest.StatusNoOp}))
	assert.False(t, strategy.ShouldShutdown(&ingest.SyncResult{Status: ingest.StatusNoOp}))
	assert.True(t, strategy.ShouldShutdown(&ingest.SyncResult{Status: ingest.StatusNoOp}))
}

func TestRecast(t *testing.T) {
	var settings struct {
		Path  string `json:"path"`
		Limit int    `json:"limit"`
	}
	err := registry.Recast(map[string]interface{}{"path": "/tmp/x", "limit": 7}, &settings)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", settings.Path)
	assert.Equal(t, 7, settings.Limit)
}
