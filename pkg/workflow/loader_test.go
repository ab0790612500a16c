// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeWorkflow(t *testing.T, dir, name, content string) string {
	t.Helper()
	wfDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(wfDir, 0o755))
	path := filepath.Join(wfDir, DefinitionFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflow(t, dir, "daily-report", `---
name: daily-report
description: Summarize the day
persona: reporter
timeout: 5m
on:
  schedule:
    - cron: "0 9 * * *"
  manual: true
env:
  REPORT_STYLE: brief
---
Write a daily report for ${DATE}.
`)

	w, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "daily-report", w.Name)
	assert.Equal(t, "reporter", w.Persona)
	assert.Equal(t, "Write a daily report for ${DATE}.\n", w.Task)
	assert.Equal(t, path, w.Path)
	require.NotNil(t, w.On)
	require.Len(t, w.On.Schedule, 1)
	assert.Equal(t, "0 9 * * *", w.On.Schedule[0].Cron)
	assert.True(t, w.On.Manual)

	timeout, err := w.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, timeout)
}

func TestLoad_MissingName(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflow(t, dir, "bad", "---\npersona: p\n---\ntask\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field name")
}

func TestLoad_MissingPersona(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflow(t, dir, "bad", "---\nname: bad\n---\ntask\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field persona")
}

func TestLoad_InvalidTimeout(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflow(t, dir, "bad", "---\nname: bad\npersona: p\ntimeout: 5x\n---\ntask\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_ChannelTriggerRequiresName(t *testing.T) {
	dir := t.TempDir()
	path := writeWorkflow(t, dir, "bad", `---
name: bad
persona: p
on:
  channel:
    inputs:
      K: v
---
task
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel trigger missing channel name")
}

func TestLoadAll_SkipsInvalidAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "zeta", "---\nname: zeta\npersona: p\n---\nz\n")
	writeWorkflow(t, dir, "alpha", "---\nname: alpha\npersona: p\n---\na\n")
	writeWorkflow(t, dir, "broken", "---\npersona: p\n---\nno name\n")
	// A stray file at the top level is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0o644))

	workflows, err := LoadAll(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, "alpha", workflows[0].Name)
	assert.Equal(t, "zeta", workflows[1].Name)
}

func TestLoadAll_MissingDir(t *testing.T) {
	workflows, err := LoadAll(filepath.Join(t.TempDir(), "nope"), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestResolveInputs(t *testing.T) {
	w := &Workflow{
		Name: "wf",
		Inputs: []Input{
			{Name: "env", Required: true, Enum: []string{"dev", "prod"}},
			{Name: "region", Default: "us-east-1"},
			{Name: "note"},
		},
	}

	out, err := w.ResolveInputs(map[string]string{"env": "prod"})
	require.NoError(t, err)
	assert.Equal(t, "prod", out["env"])
	assert.Equal(t, "us-east-1", out["region"])
	_, hasNote := out["note"]
	assert.False(t, hasNote)

	_, err = w.ResolveInputs(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required input env")

	_, err = w.ResolveInputs(map[string]string{"env": "staging"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in enum")
}
