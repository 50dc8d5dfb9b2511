// Package cmd implements the bridge's CLI entrypoint.
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentdev/tg-agent-bridge/internal/bridge"
	"github.com/agentdev/tg-agent-bridge/internal/config"
)

// Version is the bridge's release identifier, surfaced by /version and
// the "now ACTIVE" startup notice. Set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tg-agent-bridge [directory] [session-id]",
	Short: "Bridge a local AI coding agent session to a Telegram forum channel",
	Long: `tg-agent-bridge binds one working directory to one Telegram chat
(optionally one forum topic thread), streams the agent's reasoning, tool
calls, and file edits to Telegram with live message-editing, and forwards
Telegram text, photos, voice notes, and button presses back to the agent.

Examples:
  tg-agent-bridge
  tg-agent-bridge ~/code/myproject
  tg-agent-bridge ~/code/myproject 8f2e1c4a-...`,
	Args: cobra.MaximumNArgs(2),
	RunE: run,
}

// Execute runs the root command, exiting with status 1 on startup failure
// (§6.5: "missing config, invalid token, store unreachable with fallback
// disabled").
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("[bridge] %v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	workdir := "."
	if len(args) > 0 {
		workdir = args[0]
	}
	absWorkdir, err := filepath.Abs(workdir)
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	var sessionID string
	if len(args) > 1 {
		sessionID = args[1]
	}

	cfg, err := config.Load(absWorkdir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	b, err := bridge.New(cfg, Version)
	if err != nil {
		return fmt.Errorf("construct bridge: %w", err)
	}
	if err := b.Bootstrap(absWorkdir); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	b.AdoptSession(sessionID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[bridge] ingest loop exited: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		b.RunEventConsumer(ctx)
	}()

	<-ctx.Done()
	log.Printf("[bridge] shutting down")
	wg.Wait()
	b.Shutdown()
	return nil
}
