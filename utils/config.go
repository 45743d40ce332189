package utils

import (
	"errors"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/lakeline/lakeline/utils/log"
)

// PluginSetting names a pluggable strategy and carries its untyped config,
// recast by the factory that constructs it.
type PluginSetting struct {
	Name   string                 `yaml:"name"`
	Config map[string]interface{} `yaml:"config"`
}

// RunnerConfig is everything the start command needs to drive continuous
// ingestion against one table.
type RunnerConfig struct {
	BasePath  string
	TableName string
	TableType string

	Continuous                      bool
	OperationType                   string
	SourceLimit                     int64
	MinSyncInterval                 time.Duration
	AllowCommitOnNoCheckpointChange bool
	ReconcileSchema                 bool

	ConcurrencyMode string
	CleaningPolicy  string
	LockWaitTimeout time.Duration

	Source              PluginSetting
	Transformers        []PluginSetting
	Writer              PluginSetting
	LockProvider        PluginSetting
	TerminationStrategy PluginSetting

	MinCommitsToKeep int
	MaxCommitsToKeep int

	AsyncServices                bool
	ClusteringCommits            int
	ClusteringExecutor           PluginSetting
	CompactionDeltaCommits       int
	CompactionExecutor           PluginSetting
	EnableIndexing               bool
	IndexingExecutor             PluginSetting
	RetryLastFailedClusteringJob bool
}

// ParseConfig reads the runner YAML, applying defaults and the log level.
func ParseConfig(data []byte) (*RunnerConfig, error) {
	var aux struct {
		BasePath                        string          `yaml:"base_path"`
		TableName                       string          `yaml:"table_name"`
		TableType                       string          `yaml:"table_type"`
		LogLevel                        string          `yaml:"log_level"`
		Continuous                      bool            `yaml:"continuous"`
		OperationType                   string          `yaml:"operation_type"`
		SourceLimit                     int64           `yaml:"source_limit"`
		MinSyncIntervalSeconds          int             `yaml:"min_sync_interval_seconds"`
		AllowCommitOnNoCheckpointChange bool            `yaml:"allow_commit_on_no_checkpoint_change"`
		ReconcileSchema                 bool            `yaml:"reconcile_schema"`
		ConcurrencyMode                 string          `yaml:"concurrency_mode"`
		CleaningPolicy                  string          `yaml:"cleaning_policy"`
		LockWaitTimeoutSeconds          int             `yaml:"lock_wait_timeout_seconds"`
		Source                          PluginSetting   `yaml:"source"`
		Transformers                    []PluginSetting `yaml:"transformers"`
		Writer                          PluginSetting   `yaml:"writer"`
		LockProvider                    PluginSetting   `yaml:"lock_provider"`
		TerminationStrategy             PluginSetting   `yaml:"termination_strategy"`
		MinCommitsToKeep                int             `yaml:"min_commits_to_keep"`
		MaxCommitsToKeep                int             `yaml:"max_commits_to_keep"`
		AsyncServices                   bool            `yaml:"async_services"`
		ClusteringCommits               int             `yaml:"clustering_commits"`
		ClusteringExecutor              PluginSetting   `yaml:"clustering_executor"`
		CompactionDeltaCommits          int             `yaml:"compaction_delta_commits"`
		CompactionExecutor              PluginSetting   `yaml:"compaction_executor"`
		EnableIndexing                  bool            `yaml:"enable_indexing"`
		IndexingExecutor                PluginSetting   `yaml:"indexing_executor"`
		RetryLastFailedClusteringJob    bool            `yaml:"retry_last_failed_clustering_job"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, err
	}

	if aux.BasePath == "" {
		return nil, errors.New("base_path is required")
	}
	if aux.TableName == "" {
		return nil, errors.New("table_name is required")
	}
	if aux.Source.Name == "" {
		return nil, errors.New("a source is required")
	}
	if aux.Writer.Name == "" {
		return nil, errors.New("a writer is required")
	}

	if aux.LogLevel != "" {
		switch strings.ToLower(aux.LogLevel) {
		case "fatal":
			log.SetLevel(log.FATAL)
		case "error":
			log.SetLevel(log.ERROR)
		case "warning":
			log.SetLevel(log.WARNING)
		case "debug":
			log.SetLevel(log.DEBUG)
		case "info":
			fallthrough
		default:
			log.SetLevel(log.INFO)
		}
	}

	m := &RunnerConfig{
		BasePath:                        aux.BasePath,
		TableName:                       aux.TableName,
		TableType:                       aux.TableType,
		Continuous:                      aux.Continuous,
		OperationType:                   aux.OperationType,
		SourceLimit:                     aux.SourceLimit,
		AllowCommitOnNoCheckpointChange: aux.AllowCommitOnNoCheckpointChange,
		ReconcileSchema:                 aux.ReconcileSchema,
		ConcurrencyMode:                 aux.ConcurrencyMode,
		CleaningPolicy:                  aux.CleaningPolicy,
		Source:                          aux.Source,
		Transformers:                    aux.Transformers,
		Writer:                          aux.Writer,
		LockProvider:                    aux.LockProvider,
		TerminationStrategy:             aux.TerminationStrategy,
		MinCommitsToKeep:                aux.MinCommitsToKeep,
		MaxCommitsToKeep:                aux.MaxCommitsToKeep,
		AsyncServices:                   aux.AsyncServices,
		ClusteringCommits:               aux.ClusteringCommits,
		ClusteringExecutor:              aux.ClusteringExecutor,
		CompactionDeltaCommits:          aux.CompactionDeltaCommits,
		CompactionExecutor:              aux.CompactionExecutor,
		EnableIndexing:                  aux.EnableIndexing,
		IndexingExecutor:                aux.IndexingExecutor,
		RetryLastFailedClusteringJob:    aux.RetryLastFailedClusteringJob,
	}

	if aux.TableType == "" {
		m.TableType = "COPY_ON_WRITE"
	}
	if aux.OperationType == "" {
		m.OperationType = "upsert"
	}
	if aux.MinSyncIntervalSeconds > 0 {
		m.MinSyncInterval = time.Duration(aux.MinSyncIntervalSeconds) * time.Second
	}
	if aux.LockWaitTimeoutSeconds > 0 {
		m.LockWaitTimeout = time.Duration(aux.LockWaitTimeoutSeconds) * time.Second
	}
	if m.MinCommitsToKeep == 0 {
		m.MinCommitsToKeep = 20
	}
	if m.MaxCommitsToKeep == 0 {
		m.MaxCommitsToKeep = 30
	}

	return m, nil
}
