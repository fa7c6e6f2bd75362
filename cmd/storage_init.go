package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"prism-kanban/config"
	"prism-kanban/storage"
)

var storageInitCmd = &cobra.Command{
	Use:   "storage-init",
	Short: "Create the Azure table and change queue used by the service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Read()
		if err != nil {
			return err
		}
		if cfg.StorageConnectionString == "" {
			return errors.New("STORAGE_CONNECTION_STRING is required")
		}
		logger := newLogger(cfg)
		if err := storage.Provision(cmd.Context(), cfg.StorageConnectionString,
			[]string{cfg.KanbanTable}, []string{cfg.ChangesQueue}, logger); err != nil {
			return err
		}
		logger.Info("storage initialization complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storageInitCmd)
}
