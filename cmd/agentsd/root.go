// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dot-agents/agentsd/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentsd",
	Short: "Agent orchestration daemon for .agents/ projects",
	Long: heredoc.Doc(`
		agentsd watches a project's .agents/ directory and turns it into a
		running agent system: personas answer direct messages, workflows
		fire on cron schedules and channel activity, and every invocation
		is recorded as a session.

		State lives entirely on the filesystem under .agents/ so it can be
		inspected, edited and versioned like any other project file.
	`),
	Version: version.Get(),
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <agents dir>/config.yaml)")
	rootCmd.PersistentFlags().String("dir", "", "path to the .agents directory (default: walk up from cwd)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	viper.SetEnvPrefix("AGENTSD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// initConfig layers an optional config file under flags and env.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if dir := viper.GetString("dir"); dir != "" {
		viper.SetConfigFile(filepath.Join(dir, "config.yaml"))
	} else {
		return
	}
	if err := viper.ReadInConfig(); err != nil {
		if cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		// The default per-project config file is optional.
	}
}
