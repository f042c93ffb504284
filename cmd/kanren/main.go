// Package main is the kanren CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kanren/internal/config"
	"github.com/hyperjump/kanren/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kanren/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "kanren serve" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// app carries the state shared by every command.
type app struct {
	configPath string
	debug      bool

	cfg        *config.Config
	loadedFrom string
	logger     *zap.Logger
}

// setup loads the config and builds the logger. Commands that only talk to a
// running server skip it.
func (a *app) setup() error {
	cfg, loadedFrom, err := loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || a.debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.cfg, a.loadedFrom, a.logger = cfg, loadedFrom, logger
	return nil
}

func (a *app) debugMode() bool {
	return a.debug || (a.cfg != nil && a.cfg.Debug)
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "kanren",
		Short: "Related notes for a vault of markdown notes",
		Long: `kanren keeps an embedding index of a note vault up to date and answers
"which notes are related to this one" queries against it.

Example usage:
  kanren serve                       # watch the vault and serve the HTTP API
  kanren sync                        # bring the index in line with the vault
  kanren related daily/today.md      # notes related to a note
  kanren related --text "garden"     # notes related to a piece of text`,
		SilenceUsage: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(a),
		newSyncCmd(a),
		newRebuildCmd(a),
		newRelatedCmd(a),
		newIndexCmd(a),
		newDeleteCmd(a),
		newRenameCmd(a),
		newStatusCmd(a),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
