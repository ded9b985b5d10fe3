// Package app assembles the command-line surface. The binary has two
// commands: serve, which runs the stdio tool server until stdin
// closes or a signal arrives, and version.
package app

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/ethquery/internal/config"
	apperr "github.com/ggonzalez94/ethquery/internal/errors"
	"github.com/ggonzalez94/ethquery/internal/metrics"
	"github.com/ggonzalez94/ethquery/internal/server"
	"github.com/ggonzalez94/ethquery/internal/service"
	"github.com/ggonzalez94/ethquery/internal/version"
)

type Runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return NewRunnerWithStreams(os.Stdin, os.Stdout, os.Stderr)
}

func NewRunnerWithStreams(stdin io.Reader, stdout, stderr io.Writer) *Runner {
	return &Runner{stdin: stdin, stdout: stdout, stderr: stderr}
}

func (r *Runner) Run(args []string) int {
	root := r.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stderr)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(r.stderr, "error: %v\n", err)
		if apperr.CodeOf(err) == apperr.CodeConfig || apperr.CodeOf(err) == apperr.CodeInvalidParams {
			return 2
		}
		return 1
	}
	return 0
}

func (r *Runner) newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   version.Name,
		Short: "Ethereum balance, price, and swap tool server",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	cmd.AddCommand(r.newServeCommand(&configPath))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func (r *Runner) newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC tool server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(r.stderr, cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.New(prometheus.DefaultRegisterer)
			if cfg.MetricsAddr != "" {
				go func() {
					if err := metrics.Serve(cfg.MetricsAddr); err != nil {
						log.WithError(err).Error("metrics endpoint stopped")
					}
				}()
			}

			svc, err := service.New(ctx, cfg, m, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			log.WithFields(logrus.Fields{
				"chain_id": cfg.ChainID,
				"version":  version.Version,
			}).Info("tool server ready")

			return server.New(svc, r.stdin, r.stdout, log).Run(ctx)
		},
	}
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

// newLogger writes structured logs to stderr only; stdout carries the
// protocol stream.
func newLogger(out io.Writer, level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}
