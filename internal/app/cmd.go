package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hitoshi/courtside/internal/config"
)

// コマンド名。
const (
	CommandServe       = "serve"
	CommandWorker      = "worker"
	CommandMigrate     = "migrate"
	CommandSeed        = "seed"
	CommandHealthcheck = "healthcheck"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドを省略した場合はserveとして起動する。
// SIGINTまたはSIGTERMを受信するとコマンドのコンテキストをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand はcourtsideのルートコマンドを生成する。
// wはログの出力先。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := newServeCommand(w)

	cmd := &cobra.Command{
		Use:           "courtside",
		Short:         "School tennis stats backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	cmd.AddCommand(serve)
	cmd.AddCommand(newWorkerCommand(w))
	cmd.AddCommand(newMigrateCommand(w))
	cmd.AddCommand(newSeedCommand(w))
	cmd.AddCommand(newHealthcheckCommand())
	return cmd
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandServe,
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initCommand(w, CommandServe)
			if err != nil {
				return err
			}
			return runServe(commandContext(cmd), cfg)
		},
	}
}

func newWorkerCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandWorker,
		Short: "Purge expired sessions periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initCommand(w, CommandWorker)
			if err != nil {
				return err
			}
			return runWorker(commandContext(cmd), cfg)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   CommandMigrate,
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initCommand(w, CommandMigrate)
			if err != nil {
				return err
			}
			return runMigrate(cfg, steps)
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply (negative rolls back, 0 applies all)")
	return cmd
}

func newSeedCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandSeed,
		Short: "Insert the default roles if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initCommand(w, CommandSeed)
			if err != nil {
				return err
			}
			return runSeed(commandContext(cmd), cfg)
		},
	}
}

// newHealthcheckCommand は軽量サブコマンドのため、設定のフル読み込みを行わない。
func newHealthcheckCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   CommandHealthcheck,
		Short: "Check the local server's /health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(commandContext(cmd), "http://localhost:"+port)
		},
	}

	defaultPort := os.Getenv("SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	cmd.Flags().StringVar(&port, "port", defaultPort, "Port the server listens on")
	return cmd
}

func initCommand(w io.Writer, name string) (*config.Config, error) {
	cfg, err := Init(w)
	if err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}
	logStart(cfg, name)
	return cfg, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
