// Package create - because packages cannot be named 'init' in go.
package create

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/lakeline/lakeline/meta"
	"github.com/lakeline/lakeline/storage"
	"github.com/lakeline/lakeline/utils/log"
)

const (
	usage   = "init"
	short   = "Initializes a new lakeline table"
	long    = "This command creates the meta folder for a new table at the given base path"
	example = "lakeline init --path /data/trips --name trips --type COPY_ON_WRITE"
)

var (
	// Cmd is the init command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"create", "new"},
		Example:    example,
		RunE:       executeInit,
	}
	basePath  string
	tableName string
	tableType string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&basePath, "path", "p", "", "base path of the table")
	Cmd.Flags().StringVarP(&tableName, "name", "n", "", "table name")
	Cmd.Flags().StringVarP(&tableType, "type", "t", string(meta.CopyOnWrite), "table type")
}

// executeInit implements the init command.
func executeInit(cmd *cobra.Command, _ []string) error {
	if basePath == "" || tableName == "" {
		return errors.New("both --path and --name are required")
	}
	cmd.SilenceUsage = true

	tt := meta.TableType(tableType)
	if tt != meta.CopyOnWrite && tt != meta.MergeOnRead {
		return meta.UnsupportedTableTypeError(tableType)
	}

	backend := storage.NewRetryingBackend(storage.NewLocalBackend(), storage.RetryConfig{})
	client, err := meta.Init(backend, basePath, meta.DefaultTableConfig(tableName, tt))
	if err != nil {
		return err
	}

	log.Info("initialized table %s (%s) at %s", client.TableConfig().Name, tableType, basePath)
	return nil
}
