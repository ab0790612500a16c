// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dot-agents/agentsd/pkg/channel"
	"github.com/dot-agents/agentsd/pkg/session"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newTestSupervisor(t *testing.T, files map[string]string) (*Supervisor, string) {
	t.Helper()
	agentsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(agentsDir, "channels"), 0o755))
	writeTree(t, agentsDir, files)

	sup, err := New(Config{
		AgentsDir:          agentsDir,
		RegistryPath:       filepath.Join(agentsDir, "projects.yaml"),
		Logger:             zaptest.NewLogger(t),
		ChannelInterval:    20 * time.Millisecond,
		DefinitionInterval: 20 * time.Millisecond,
		SettleThreshold:    5 * time.Millisecond,
	})
	require.NoError(t, err)
	return sup, agentsDir
}

func startSupervisor(t *testing.T, sup *Supervisor) {
	t.Helper()
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(sup.Stop)
}

const catPersona = "---\nname: helper\ncmd: cat\n---\nYou are helpful.\n"

func TestFindAgentsDir(t *testing.T) {
	root := t.TempDir()
	agents := filepath.Join(root, ".agents")
	nested := filepath.Join(root, "src", "deep", "pkg")
	require.NoError(t, os.MkdirAll(agents, 0o755))
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindAgentsDir(nested)
	require.NoError(t, err)
	assert.Equal(t, agents, found)
}

func TestSupervisor_PIDFileLifecycle(t *testing.T) {
	sup, agentsDir := newTestSupervisor(t, nil)
	require.NoError(t, sup.Start(context.Background()))

	data, err := os.ReadFile(filepath.Join(agentsDir, PIDFile))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(os.Getpid()), string(data))

	sup.Stop()
	_, err = os.Stat(filepath.Join(agentsDir, PIDFile))
	assert.True(t, os.IsNotExist(err))
}

func TestSupervisor_DMPipeline(t *testing.T) {
	sup, _ := newTestSupervisor(t, map[string]string{
		"personas/helper/PERSONA.md": catPersona,
	})
	startSupervisor(t, sup)

	threadID, err := sup.Channels().Publish("@helper", "what is the plan?", channel.Meta{From: "human:alice"})
	require.NoError(t, err)

	// The persona (cat) echoes its prompt; the reply lands in the thread.
	require.Eventually(t, func() bool {
		messages, err := sup.Channels().Read("@helper", channel.ReadOptions{})
		if err != nil || len(messages) != 1 {
			return false
		}
		return len(messages[0].Replies) == 1
	}, 10*time.Second, 50*time.Millisecond)

	messages, err := sup.Channels().Read("@helper", channel.ReadOptions{})
	require.NoError(t, err)
	reply := messages[0].Replies[0]
	assert.Equal(t, "agent:helper", reply.Meta.From)
	assert.Equal(t, threadID, reply.Meta.ThreadID)
	assert.Contains(t, reply.Content, "what is the plan?")

	sessions, err := sup.Sessions().ListRecent(5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.TriggerDM, sessions[0].Header.Runtime.TriggerType)
	assert.Equal(t, "human:alice", sessions[0].Header.Upstream)
	require.NotNil(t, sessions[0].Header.Result)
	assert.True(t, sessions[0].Header.Result.Success)
}

func TestSupervisor_SelfReplySuppressed(t *testing.T) {
	sup, _ := newTestSupervisor(t, map[string]string{
		"personas/helper/PERSONA.md": catPersona,
	})
	startSupervisor(t, sup)

	_, err := sup.Channels().Publish("@helper", "echo", channel.Meta{From: "agent:helper"})
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)
	sessions, err := sup.Sessions().ListRecent(5)
	require.NoError(t, err)
	assert.Empty(t, sessions, "self-reply must never reach the executor")
}

func TestSupervisor_ChannelTrigger(t *testing.T) {
	sup, _ := newTestSupervisor(t, map[string]string{
		"personas/helper/PERSONA.md": catPersona,
		"workflows/triage/WORKFLOW.md": `---
name: triage
persona: helper
on:
  channel:
    channel: "#issues"
---
Triage this: ${CHANNEL_MESSAGE} (id ${CHANNEL_MESSAGE_ID} on ${CHANNEL_NAME})
`,
	})
	startSupervisor(t, sup)

	id, err := sup.Channels().Publish("#issues", "crash on startup", channel.Meta{From: "human:bob"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sessions, err := sup.Sessions().ListRecent(5)
		return err == nil && len(sessions) == 1 && sessions[0].Header.Result != nil
	}, 10*time.Second, 50*time.Millisecond)

	sessions, err := sup.Sessions().ListRecent(5)
	require.NoError(t, err)
	sess := sessions[0]
	assert.Equal(t, "triage", sess.Header.Workflow)
	assert.Equal(t, session.TriggerChannel, sess.Header.Runtime.TriggerType)
	assert.Contains(t, sess.Transcript, "Triage this: crash on startup")
	assert.Contains(t, sess.Transcript, "id "+id+" on #issues")
}

func TestSupervisor_ManualTrigger(t *testing.T) {
	sup, _ := newTestSupervisor(t, map[string]string{
		"personas/helper/PERSONA.md": catPersona,
		"workflows/report/WORKFLOW.md": `---
name: report
persona: helper
on:
  manual: true
---
Write the report.
`,
	})
	startSupervisor(t, sup)

	require.True(t, sup.Scheduler().TriggerWorkflow("report", nil))

	require.Eventually(t, func() bool {
		sessions, err := sup.Sessions().ListRecent(5)
		return err == nil && len(sessions) == 1 && sessions[0].Header.Result != nil
	}, 10*time.Second, 50*time.Millisecond)

	sessions, _ := sup.Sessions().ListRecent(5)
	assert.Equal(t, session.TriggerManual, sessions[0].Header.Runtime.TriggerType)

	job, ok := sup.Scheduler().GetJob("report:manual")
	require.True(t, ok)
	assert.NotEmpty(t, job.LastStatus)
}

func TestSupervisor_WorkflowReloadOnChange(t *testing.T) {
	sup, agentsDir := newTestSupervisor(t, map[string]string{
		"personas/helper/PERSONA.md": catPersona,
	})
	startSupervisor(t, sup)
	assert.Empty(t, sup.Workflows())

	writeTree(t, agentsDir, map[string]string{
		"workflows/late/WORKFLOW.md": "---\nname: late\npersona: helper\non:\n  manual: true\n---\ntask\n",
	})

	require.Eventually(t, func() bool {
		for _, w := range sup.Workflows() {
			if w.Name == "late" {
				return true
			}
		}
		return false
	}, 10*time.Second, 50*time.Millisecond)
}
