// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dot-agents/agentsd/internal/log"
	"github.com/dot-agents/agentsd/internal/version"
	"github.com/dot-agents/agentsd/pkg/api"
	"github.com/dot-agents/agentsd/pkg/daemon"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the daemon",
	Long: heredoc.Doc(`
		Start the daemon against a project's .agents/ directory.

		The daemon will:
		- register cron jobs for every scheduled workflow
		- watch channels for direct messages and channel triggers
		- reload workflow definitions when they change on disk
		- serve the HTTP/SSE API on loopback

		Press Ctrl+C to shut down gracefully.
	`),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", api.DefaultPort, "HTTP API port (loopback only)")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := log.Setup(viper.GetString("logging.level"), viper.GetString("logging.format"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	agentsDir := viper.GetString("dir")
	if agentsDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		agentsDir, err = daemon.FindAgentsDir(cwd)
		if err != nil {
			return err
		}
	}

	sup, err := daemon.New(daemon.Config{
		AgentsDir: agentsDir,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	srv, err := api.New(api.Config{
		Port:    viper.GetInt("port"),
		Daemon:  sup,
		Version: version.Get(),
		Logger:  logger,
	})
	if err != nil {
		sup.Stop()
		return err
	}
	if err := srv.Start(); err != nil {
		sup.Stop()
		return err
	}

	logger.Info("agentsd started",
		zap.String("version", version.Get()),
		zap.String("agents_dir", agentsDir),
		zap.String("addr", srv.Addr()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	sup.Stop()
	return nil
}
