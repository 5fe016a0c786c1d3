// Package app provides the commands of the recordsvc binary.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/goliatone/go-record-service/internal/config"
	"github.com/goliatone/go-record-service/internal/logging"
	"github.com/goliatone/go-record-service/pkg/di"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Set at build time with -ldflags "-X .../app.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// env carries what every subcommand needs once flags are parsed.
type env struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *logging.Logger
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	e := &env{v: config.NewViper()}

	root := &cobra.Command{
		Use:           "recordsvc",
		Short:         "Record service with cache and search index",
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `recordsvc stores records in a relational database, serves reads through a
best-effort cache and keeps a full-text index eventually consistent through a
background indexing queue.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("config", "", "Path to configuration file (YAML)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format (json, console)")
	bind(e.v, root, "log.level", "log-level")
	bind(e.v, root, "log.format", "log-format")

	root.AddCommand(
		newServeCmd(e),
		newWorkerCmd(e),
		newReindexCmd(e),
		newInitDBCmd(e),
		newVersionCmd(),
	)
	return root
}

// bind maps a persistent flag onto a config key. Flags only override when set.
func bind(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// load reads configuration and builds the logger.
func (e *env) load(cmd *cobra.Command) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(e.v, path)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return err
	}
	e.cfg, e.logger = cfg, logger
	if path != "" {
		logger.Info().Str("path", path).Msg("configuration loaded")
	}
	return nil
}

// container loads configuration and builds the component graph.
func (e *env) container(ctx context.Context, cmd *cobra.Command) (*di.Container, error) {
	if err := e.load(cmd); err != nil {
		return nil, err
	}
	return e.build(ctx)
}

// build creates the component graph from the loaded configuration.
func (e *env) build(ctx context.Context) (*di.Container, error) {
	c, err := di.NewContainer(ctx, e.cfg, di.WithLogger(e.logger.Logger))
	if err != nil {
		_ = e.logger.Close()
		return nil, err
	}
	return c, nil
}

func (e *env) close(c *di.Container) {
	if err := c.Close(); err != nil {
		e.logger.Error().Err(err).Msg("shutdown")
	}
	_ = e.logger.Close()
}

func newInitDBCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create database tables and the search index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := e.container(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close(c)

			if err := c.InitSchema(ctx); err != nil {
				return err
			}
			e.logger.Info().Msg("schema initialised")
			return nil
		},
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Version:   Version,
				Commit:    Commit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			if format == "json" {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recordsvc %s (commit %s, built %s, %s %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
