// Package main provides the emberctl CLI: a terminal console for
// Emberpanel services and nodes, with live log streaming, command
// dispatch, and log export.
package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/emberpanel/emberpanel/internal/config"
	"github.com/emberpanel/emberpanel/internal/console"
	"github.com/emberpanel/emberpanel/internal/panelapi"
)

var (
	// version is set via -ldflags at build time.
	version = "dev"

	cfgPath   string
	panelURL  string
	token     string
	debugLog  string
	exportOut string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "emberctl",
		Short: "Emberpanel operator console",
		Long: `emberctl attaches a live console to Emberpanel services and nodes:
seeded history, streamed output, filtering, export, and command dispatch.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&panelURL, "panel-url", "", "Panel base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Session token (overrides config)")
	rootCmd.PersistentFlags().StringVar(&debugLog, "debug-log", "", "Write internal logs to this file")

	rootCmd.AddCommand(
		newConsoleCmd(),
		newExportCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console <service|node> <id>",
		Short: "Attach a live log console to a service or node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(args[0])
			if err != nil {
				return err
			}
			return runConsole(cmd.Context(), scope, args[1])
		},
	}
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <service-id>",
		Short: "Export the cached log tail of a service to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVarP(&exportOut, "output", "o", "console-logs.txt", "Output file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the emberctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("emberctl", version)
		},
	}
}

func parseScope(s string) (console.TicketScope, error) {
	switch strings.ToLower(s) {
	case "service":
		return console.ScopeService, nil
	case "node":
		return console.ScopeNode, nil
	default:
		return "", fmt.Errorf("target kind must be \"service\" or \"node\", got %q", s)
	}
}

// newLogger returns the internal logger. The TUI owns the terminal, so
// logs go to a file when --debug-log is set and are discarded otherwise.
func newLogger() logr.Logger {
	sink := io.Discard
	if debugLog != "" {
		if f, err := os.OpenFile(debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			sink = f
		}
	}
	stdr.SetVerbosity(2)
	return stdr.New(stdlog.New(sink, "", stdlog.LstdFlags))
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}
	if panelURL != "" {
		cfg.PanelURL = panelURL
	}
	if token != "" {
		cfg.Token = token
	}
	return cfg, nil
}

func runConsole(ctx context.Context, scope console.TicketScope, target string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	client, err := panelapi.New(cfg.PanelURL, cfg.Token, log)
	if err != nil {
		return err
	}

	o := initObservability(ctx)
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = o.shutdown(shCtx)
	}()

	// UI refresh hints. Dropping one is harmless: the buffer is the
	// source of truth and the next hint repaints everything.
	events := make(chan tea.Msg, 256)
	notify := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}

	buf := console.NewBuffer(cfg.BufferCap)
	mgr := console.NewManager(console.ManagerConfig{
		Tickets:    client,
		Endpoints:  client,
		Buffer:     buf,
		Origin:     client.Origin(),
		Scope:      scope,
		Target:     target,
		SocketPath: cfg.SocketPath,
		OnState:    func(st console.State) { notify(connStateMsg{state: st}) },
		OnLine: func(string) {
			o.recordLine(ctx)
			notify(streamLineMsg{})
		},
		Log: log,
	})

	// Nodes have no cached tail and no command channel.
	var tail console.TailSource
	var cmds console.CommandSender
	if scope == console.ScopeService {
		tail = client
		cmds = client
	}
	ctrl := console.NewController(buf, mgr, tail, cmds, scope, target, log)
	defer ctrl.Dispose()

	// Pick up session rotation while the console is open.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if updates, err := config.Watch(watchCtx, cfgPath, log); err == nil {
		go func() {
			for fresh := range updates {
				client.SetToken(fresh.Token)
			}
		}()
	} else {
		log.Info("config watcher unavailable", "reason", err.Error())
	}

	m := newConsoleModel(ctx, ctrl, scope, target, events, o)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runExport(ctx context.Context, serviceID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := panelapi.New(cfg.PanelURL, cfg.Token, newLogger())
	if err != nil {
		return err
	}

	lines, err := client.TailLines(ctx, serviceID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(exportOut, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %d lines to %s\n", len(lines), exportOut)
	return nil
}
