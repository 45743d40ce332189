package start

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lakeline/lakeline/archiver"
	"github.com/lakeline/lakeline/ingest"
	"github.com/lakeline/lakeline/meta"
	"github.com/lakeline/lakeline/registry"
	"github.com/lakeline/lakeline/services"
	"github.com/lakeline/lakeline/storage"
	"github.com/lakeline/lakeline/txn"
	"github.com/lakeline/lakeline/utils"
	"github.com/lakeline/lakeline/utils/log"
)

const (
	usage                 = "start"
	short                 = "Start a lakeline ingestion runner"
	long                  = "This command starts an ingestion runner against one table"
	example               = "lakeline start --config <path>"
	defaultConfigFilePath = "./lakeline.yml"
	configDesc            = "set the path for the lakeline YAML configuration file"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"run", "sync"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file error: %w", err)
	}

	// Don't output command usage if args are correct.
	cmd.SilenceUsage = true

	// Log config location.
	log.Info("using %v for configuration", configFilePath)

	// Attempt to set configuration.
	config, err := utils.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file error: %w", err)
	}

	backend := storage.NewRetryingBackend(storage.NewLocalBackend(), storage.RetryConfig{})
	client, err := meta.Open(backend, config.BasePath, meta.Options{})
	if err != nil {
		return fmt.Errorf("open table at %s: %w", config.BasePath, err)
	}

	txm, err := buildTransactionManager(config)
	if err != nil {
		return err
	}
	defer txm.Close()

	orch, err := buildOrchestrator(config, client, txm)
	if err != nil {
		return err
	}

	// Spawn a goroutine and listen for a signal.
	signalChan := make(chan os.Signal, 1)
	go func() {
		for s := range signalChan {
			log.Info("initiating graceful shutdown due to '%v' request", s)
			orch.RequestShutdown()
			cancel()
		}
	}()
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	if config.Continuous {
		log.Info("starting continuous ingestion into %s...", config.TableName)
		if err := orch.RunContinuous(ctx); err != nil {
			return fmt.Errorf("continuous ingestion failed: %w", err)
		}
		log.Info("continuous ingestion stopped")
		return nil
	}

	res, err := orch.SyncOnce(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	log.Info("sync finished with status %v", res.Status)
	return nil
}

func buildTransactionManager(config *utils.RunnerConfig) (*txn.TransactionManager, error) {
	mode, err := txn.ParseConcurrencyMode(config.ConcurrencyMode)
	if err != nil {
		return nil, err
	}

	var provider txn.LockProvider
	if config.LockProvider.Name != "" {
		provider, err = registry.ResolveLockProvider(config.LockProvider.Name, config.LockProvider.Config)
		if err != nil {
			return nil, err
		}
	}
	if mode == txn.OptimisticConcurrencyControl && provider == nil {
		return nil, fmt.Errorf("concurrency mode %s requires a lock provider", config.ConcurrencyMode)
	}

	return txn.NewTransactionManager(mode, provider, txn.LockConfig{
		WaitTimeout: config.LockWaitTimeout,
	}), nil
}

func buildOrchestrator(config *utils.RunnerConfig, client *meta.MetaClient,
	txm *txn.TransactionManager,
) (*ingest.Orchestrator, error) {
	source, err := registry.ResolveSource(config.Source.Name, config.Source.Config)
	if err != nil {
		return nil, err
	}
	writer, err := registry.ResolveBatchWriter(config.Writer.Name, config.Writer.Config)
	if err != nil {
		return nil, err
	}

	var transformers []ingest.Transformer
	for _, setting := range config.Transformers {
		t, err := registry.ResolveTransformer(setting.Name, setting.Config)
		if err != nil {
			return nil, err
		}
		transformers = append(transformers, t)
	}

	var termination ingest.TerminationStrategy
	if config.TerminationStrategy.Name != "" {
		termination, err = registry.ResolveTerminationStrategy(
			config.TerminationStrategy.Name, config.TerminationStrategy.Config)
		if err != nil {
			return nil, err
		}
	}

	cleaning, err := txn.ParseCleaningPolicy(config.CleaningPolicy)
	if err != nil {
		return nil, err
	}

	tableServices, err := buildTableServices(config, client, txm)
	if err != nil {
		return nil, err
	}

	arch, err := archiver.New(client, archiver.Config{
		MinCommitsToKeep: config.MinCommitsToKeep,
		MaxCommitsToKeep: config.MaxCommitsToKeep,
	})
	if err != nil {
		return nil, err
	}

	return ingest.NewOrchestrator(ingest.Config{
		ContinuousMode:                  config.Continuous,
		OperationType:                   config.OperationType,
		SourceLimit:                     config.SourceLimit,
		MinSyncInterval:                 config.MinSyncInterval,
		AllowCommitOnNoCheckpointChange: config.AllowCommitOnNoCheckpointChange,
		ReconcileSchema:                 config.ReconcileSchema,
		CleaningPolicy:                  cleaning,
		RunServicesAsync:                config.AsyncServices,
	}, client, ingest.Collaborators{
		Source:       source,
		Transformers: transformers,
		Writer:       writer,
		Txn:          txm,
		Termination:  termination,
		Services:     tableServices,
		Archiver:     arch,
	})
}

// buildTableServices assembles the schedulers for the services the config
// enables. Each scheduler shares the table's transaction manager so service
// commits contend with ingestion commits through the same lock.
func buildTableServices(config *utils.RunnerConfig, client *meta.MetaClient,
	txm *txn.TransactionManager,
) ([]ingest.TableService, error) {
	var out []ingest.TableService

	if config.ClusteringCommits > 0 {
		exec, err := registry.ResolveServiceExecutor(
			config.ClusteringExecutor.Name, config.ClusteringExecutor.Config)
		if err != nil {
			return nil, err
		}
		out = append(out, services.NewScheduler("clustering", client, txm,
			&services.ClusteringPlanner{CommitsBeforeClustering: config.ClusteringCommits},
			exec,
			services.Config{RetryLastFailed: config.RetryLastFailedClusteringJob}))
	}

	if config.CompactionDeltaCommits > 0 {
		if client.TableConfig().Type != meta.MergeOnRead {
			return nil, fmt.Errorf("compaction requires a %s table", meta.MergeOnRead)
		}
		exec, err := registry.ResolveServiceExecutor(
			config.CompactionExecutor.Name, config.CompactionExecutor.Config)
		if err != nil {
			return nil, err
		}
		out = append(out, services.NewScheduler("compaction", client, txm,
			&services.CompactionPlanner{DeltaCommitsBeforeCompaction: config.CompactionDeltaCommits},
			exec,
			services.Config{}))
	}

	if config.EnableIndexing {
		exec, err := registry.ResolveServiceExecutor(
			config.IndexingExecutor.Name, config.IndexingExecutor.Config)
		if err != nil {
			return nil, err
		}
		out = append(out, services.NewScheduler("indexing", client, txm,
			&services.IndexingPlanner{},
			exec,
			services.Config{}))
	}

	return out, nil
}
