// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/dot-agents/agentsd/pkg/frontmatter"
)

// DefinitionFile is the file name a workflow directory is recognized by.
const DefinitionFile = "WORKFLOW.md"

// Load reads and validates one workflow definition.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}

	var w Workflow
	body, err := frontmatter.Decode(data, &w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	w.Task = body
	w.Path = path

	if w.Name == "" {
		return nil, fmt.Errorf("%s: missing required field name", path)
	}
	if w.Persona == "" {
		return nil, fmt.Errorf("%s: missing required field persona", path)
	}
	if _, err := w.TimeoutDuration(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if w.On != nil {
		for i, sched := range w.On.Schedule {
			if sched.Cron == "" {
				return nil, fmt.Errorf("%s: schedule[%d] missing cron expression", path, i)
			}
		}
		if w.On.Channel != nil && w.On.Channel.Channel == "" {
			return nil, fmt.Errorf("%s: channel trigger missing channel name", path)
		}
	}
	return &w, nil
}

// LoadAll scans workflowsDir for <name>/WORKFLOW.md definitions.
// Unparseable definitions are logged and skipped so one broken file does
// not take the rest of the tree down.
func LoadAll(workflowsDir string, logger *zap.Logger) ([]*Workflow, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := os.ReadDir(workflowsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	var workflows []*Workflow
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(workflowsDir, entry.Name(), DefinitionFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		w, err := Load(path)
		if err != nil {
			logger.Warn("Skipping invalid workflow", zap.String("path", path), zap.Error(err))
			continue
		}
		workflows = append(workflows, w)
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].Name < workflows[j].Name })
	return workflows, nil
}
