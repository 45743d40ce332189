// Package registry maps configuration names to constructors for the
// pluggable strategies: sources, transformers, lock providers and
// termination strategies. Unknown names fail at configuration-parse time
// with UnknownNameError instead of surfacing as a runtime load failure.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/lakeline/lakeline/ingest"
	"github.com/lakeline/lakeline/services"
	"github.com/lakeline/lakeline/txn"
)

// UnknownNameError is returned when a configuration references a name no
// factory was registered under.
type UnknownNameError string

func (e UnknownNameError) Error() string {
	return "no factory registered for " + string(e)
}

type (
	SourceFactory      func(config map[string]interface{}) (ingest.Source, error)
	TransformerFactory func(config map[string]interface{}) (ingest.Transformer, error)
	LockFactory        func(config map[string]interface{}) (txn.LockProvider, error)
	TerminationFactory func(config map[string]interface{}) (ingest.TerminationStrategy, error)
	WriterFactory      func(config map[string]interface{}) (ingest.BatchWriter, error)
	ExecutorFactory    func(config map[string]interface{}) (services.Executor, error)
)

var (
	mu           sync.RWMutex
	sources      = make(map[string]SourceFactory)
	transformers = make(map[string]TransformerFactory)
	locks        = make(map[string]LockFactory)
	terminations = make(map[string]TerminationFactory)
	writers      = make(map[string]WriterFactory)
	executors    = make(map[string]ExecutorFactory)
)

func RegisterSource(name string, f SourceFactory) {
	mu.Lock()
	defer mu.Unlock()
	sources[name] = f
}

func RegisterTransformer(name string, f TransformerFactory) {
	mu.Lock()
	defer mu.Unlock()
	transformers[name] = f
}

func RegisterLockProvider(name string, f LockFactory) {
	mu.Lock()
	defer mu.Unlock()
	locks[name] = f
}

func RegisterTerminationStrategy(name string, f TerminationFactory) {
	mu.Lock()
	defer mu.Unlock()
	terminations[name] = f
}

func ResolveSource(name string, config map[string]interface{}) (ingest.Source, error) {
	mu.RLock()
	f, ok := sources[name]
	mu.RUnlock()
	if !ok {
		return nil, UnknownNameError("source " + name)
	}
	return f(config)
}

func ResolveTransformer(name string, config map[string]interface{}) (ingest.Transformer, error) {
	mu.RLock()
	f, ok := transformers[name]
	mu.RUnlock()
	if !ok {
		return nil, UnknownNameError("transformer " + name)
	}
	return f(config)
}

func ResolveLockProvider(name string, config map[string]interface{}) (txn.LockProvider, error) {
	mu.RLock()
	f, ok := locks[name]
	mu.RUnlock()
	if !ok {
		return nil, UnknownNameError("lock provider " + name)
	}
	return f(config)
}

func ResolveTerminationStrategy(name string, config map[string]interface{}) (ingest.TerminationStrategy, error) {
	mu.RLock()
	f, ok := terminations[name]
	mu.RUnlock()
	if !ok {
		return nil, UnknownNameError("termination strategy " + name)
	}
	return f(config)
}

func RegisterBatchWriter(name string, f WriterFactory) {
	mu.Lock()
	defer mu.Unlock()
	writers[name] = f
}

func RegisterServiceExecutor(name string, f ExecutorFactory) {
	mu.Lock()
	defer mu.Unlock()
	executors[name] = f
}

func ResolveBatchWriter(name string, config map[string]interface{}) (ingest.BatchWriter, error) {
	mu.RLock()
	f, ok := writers[name]
	mu.RUnlock()
	if !ok {
		return nil, UnknownNameError("batch writer " + name)
	}
	return f(config)
}

func ResolveServiceExecutor(name string, config map[string]interface{}) (services.Executor, error) {
	mu.RLock()
	f, ok := executors[name]
	mu.RUnlock()
	if !ok {
		return nil, UnknownNameError("service executor " + name)
	}
	return f(config)
}

// Recast converts an untyped config map into a typed settings struct via a
// JSON round trip, matching how plugin configs are declared in YAML.
func Recast(config map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
