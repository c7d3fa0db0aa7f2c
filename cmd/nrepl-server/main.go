// Command nrepl-server runs a standalone evaluation server (SPEC_FULL.md
// §C10) backed by the langtoy fixture runtime. A real deployment would
// substitute its own eval.Evaluator/Reader/Printer for a real language
// runtime; everything else here is reusable as-is.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/juergenhoetzel/tools.nrepl/eval"
	"github.com/juergenhoetzel/tools.nrepl/internal/config"
	"github.com/juergenhoetzel/tools.nrepl/internal/logging"
	"github.com/juergenhoetzel/tools.nrepl/langtoy"
	"github.com/juergenhoetzel/tools.nrepl/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New("nrepl-server")

	cmd := &cobra.Command{
		Use:   "nrepl-server",
		Short: "Run a networked evaluation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadFileIfPresent(v); err != nil {
				return err
			}
			cfg := config.LoadServer(v)

			log := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})

			rt := langtoy.NewRuntime()
			driver := &eval.Driver{
				Reader:         langtoy.Reader{},
				Evaluator:      rt,
				Printer:        langtoy.Printer{},
				TraceFormatter: langtoy.TraceFormatter{},
			}

			srv, err := server.Start(server.Config{
				Host:           cfg.Host,
				Port:           cfg.Port,
				AckPort:        cfg.AckPort,
				DefaultTimeout: cfg.DefaultTimeout,
				Driver:         driver,
				Log:            log,
			})
			if err != nil {
				return fmt.Errorf("starting server: %w", err)
			}
			log.WithField("addr", srv.Addr().String()).Info("listening")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			log.Info("shutting down")
			return srv.Shutdown()
		},
	}

	fs := cmd.Flags()
	fs.String("host", "127.0.0.1", "interface to bind")
	fs.Int("port", 0, "port to bind (0 selects an ephemeral port)")
	fs.Int("ack-port", 0, "parent server port to ack on startup")
	fs.Duration("timeout", 60*time.Second, "default per-request evaluation timeout")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-file", "", "rotate logs to this file instead of stderr")
	config.BindFlags(v, fs)

	return cmd
}
