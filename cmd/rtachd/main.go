// rtachd is the terminal-session persistence daemon: one instance owns a
// single PTY and shell process, keeps a scrollback ring for it, and lets
// any number of client connections attach, detach, and reattach across
// network blips without losing output.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rtach/rtachd/internal/config"
	"github.com/rtach/rtachd/internal/daemon"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n\nPANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "rtachd",
		Short: "Terminal-session persistence daemon",
	}

	serveCmd := &cobra.Command{
		Use:   "serve [-- command [args...]]",
		Short: "Spawn the shell and serve attach/detach clients until it exits",
		RunE:  runServe,
	}
	serveCmd.Flags().Uint16("rows", 24, "initial PTY row count")
	serveCmd.Flags().Uint16("cols", 80, "initial PTY column count")
	serveCmd.Flags().String("dir", "", "working directory for the spawned shell")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, warnings := config.Load()

	logger := newLogger(cfg)
	for _, w := range warnings {
		logger.Warn(w)
	}

	command, shellArgs := resolveShell(args)
	rows, _ := cmd.Flags().GetUint16("rows")
	cols, _ := cmd.Flags().GetUint16("cols")
	dir, _ := cmd.Flags().GetString("dir")

	s := daemon.New(cfg, logger)
	if err := s.Start(daemon.StartConfig{
		Command: command,
		Args:    shellArgs,
		Dir:     dir,
		Env:     os.Environ(),
		Rows:    rows,
		Cols:    cols,
	}); err != nil {
		logger.Error("start failed", "error", err)
		return fmt.Errorf("rtachd: start failed: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		s.Shutdown()
	}()

	logger.Info("rtachd serving", "socket", cfg.SocketPath, "command", command)
	s.Wait()
	return nil
}

// resolveShell picks the command to spawn: everything after a "--"
// separator, or $SHELL, or /bin/sh as a last resort.
func resolveShell(args []string) (string, []string) {
	if len(args) > 0 {
		return args[0], args[1:]
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell, nil
	}
	return "/bin/sh", nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logFile, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtachd: failed to open log file %s: %v\n", cfg.LogPath(), err)
		logFile = os.Stderr
	}

	handler := slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
