// Command nrepl-client is an interactive REPL client (SPEC_FULL.md §C10):
// it connects to a server, reads lines from stdin, submits each as a
// request, and prints the resulting value/out/err stream with fatih/color
// highlighting the way a terminal REPL traditionally does.
package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/juergenhoetzel/tools.nrepl/client"
	"github.com/juergenhoetzel/tools.nrepl/internal/config"
	"github.com/juergenhoetzel/tools.nrepl/message"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New("nrepl-client")

	cmd := &cobra.Command{
		Use:   "nrepl-client",
		Short: "Connect to a running evaluation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadFileIfPresent(v); err != nil {
				return err
			}
			cfg := config.LoadClient(v)
			return runREPL(cfg.Addr)
		},
	}

	fs := cmd.Flags()
	fs.String("addr", "127.0.0.1:7888", "server address")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	config.BindFlags(v, fs)

	return cmd
}

var (
	valueColor  = color.New(color.FgGreen)
	outColor    = color.New(color.FgWhite)
	errColor    = color.New(color.FgRed)
	promptColor = color.New(color.FgCyan, color.Bold)
)

func runREPL(addr string) error {
	c, err := client.Connect(addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer c.Close()

	scanner := bufio.NewScanner(os.Stdin)
	promptColor.Fprintf(os.Stdout, "nrepl> ")
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			promptColor.Fprintf(os.Stdout, "nrepl> ")
			continue
		}

		resp, err := c.Send(line)
		if err != nil {
			errColor.Fprintf(os.Stderr, "%v\n", err)
			break
		}

		for _, m := range client.ResponseSeq(resp, 30*time.Second) {
			printResponse(m)
		}
		promptColor.Fprintf(os.Stdout, "nrepl> ")
	}
	return scanner.Err()
}

func printResponse(m message.Message) {
	if s := m.String(message.KeyOut); s != "" {
		outColor.Fprint(os.Stdout, s)
	}
	if s := m.String(message.KeyErr); s != "" {
		errColor.Fprint(os.Stderr, s)
	}
	if v, ok := m[message.KeyValue]; ok {
		valueColor.Fprintf(os.Stdout, "%v\n", v)
	}
	if s := m.String(message.KeyStatus); s != "" && s != message.StatusDone {
		errColor.Fprintf(os.Stderr, "; %s\n", s)
	}
}
