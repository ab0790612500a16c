// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dot-agents/agentsd/pkg/channel"
)

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	agentsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(agentsDir, "channels"), 0o755))
	w := New(Config{
		AgentsDir:          agentsDir,
		ChannelInterval:    20 * time.Millisecond,
		DefinitionInterval: 20 * time.Millisecond,
		SettleThreshold:    5 * time.Millisecond,
		Logger:             zaptest.NewLogger(t),
	})
	return w, agentsDir
}

func startWatcher(t *testing.T, w *Watcher) <-chan Event {
	t.Helper()
	events, cancel := w.Subscribe()
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		w.Close()
		cancel()
	})
	return events
}

func collect(t *testing.T, events <-chan Event, want EventType, timeout time.Duration) *Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return &ev
			}
		case <-deadline:
			return nil
		}
	}
}

func TestWatcher_ChannelMessageEvent(t *testing.T) {
	w, agentsDir := newTestWatcher(t)
	store := channel.NewStore(filepath.Join(agentsDir, "channels"), zaptest.NewLogger(t))
	events := startWatcher(t, w)

	id, err := store.Publish("#issues", "new bug", channel.Meta{From: "human:alice"})
	require.NoError(t, err)

	ev := collect(t, events, ChannelMessage, 3*time.Second)
	require.NotNil(t, ev, "expected a channel:message event")
	assert.Equal(t, "#issues", ev.Channel)
	assert.Equal(t, id, ev.MessageID)
	assert.FileExists(t, ev.MessagePath)
}

func TestWatcher_DMEvent(t *testing.T) {
	w, agentsDir := newTestWatcher(t)
	store := channel.NewStore(filepath.Join(agentsDir, "channels"), zaptest.NewLogger(t))
	events := startWatcher(t, w)

	id, err := store.Publish("@helper", "please summarize", channel.Meta{From: "human:alice"})
	require.NoError(t, err)

	ev := collect(t, events, DMReceived, 3*time.Second)
	require.NotNil(t, ev, "expected a dm:received event")
	assert.Equal(t, "@helper", ev.Channel)
	assert.Equal(t, id, ev.MessageID)
}

func TestWatcher_RepliesSuppressed(t *testing.T) {
	w, agentsDir := newTestWatcher(t)
	store := channel.NewStore(filepath.Join(agentsDir, "channels"), zaptest.NewLogger(t))

	threadID, err := store.Publish("#issues", "first", channel.Meta{})
	require.NoError(t, err)

	events := startWatcher(t, w)

	_, err = store.Reply("#issues", threadID, "agent response", channel.Meta{From: "agent:bot"})
	require.NoError(t, err)

	ev := collect(t, events, ChannelMessage, 500*time.Millisecond)
	assert.Nil(t, ev, "replies must never reach the channel:message path")
}

func TestWatcher_PreexistingMessagesNotReplayed(t *testing.T) {
	w, agentsDir := newTestWatcher(t)
	store := channel.NewStore(filepath.Join(agentsDir, "channels"), zaptest.NewLogger(t))

	_, err := store.Publish("#issues", "old news", channel.Meta{})
	require.NoError(t, err)

	events := startWatcher(t, w)
	ev := collect(t, events, ChannelMessage, 300*time.Millisecond)
	assert.Nil(t, ev, "priming must not replay history")
}

func TestWatcher_IgnoresNonMarkdownAndWorkspace(t *testing.T) {
	w, agentsDir := newTestWatcher(t)
	store := channel.NewStore(filepath.Join(agentsDir, "channels"), zaptest.NewLogger(t))
	threadID, err := store.Publish("#issues", "first", channel.Meta{})
	require.NoError(t, err)

	events := startWatcher(t, w)

	ws, err := store.ThreadWorkspace("#issues", threadID, true)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "scratch.md"), []byte("notes"), 0o644))
	threadDir := filepath.Join(agentsDir, "channels", "#issues", threadID)
	require.NoError(t, os.WriteFile(filepath.Join(threadDir, "attachment.txt"), []byte("x"), 0o644))

	ev := collect(t, events, ChannelMessage, 300*time.Millisecond)
	assert.Nil(t, ev)
}

func TestWatcher_WorkflowLifecycleEvents(t *testing.T) {
	w, agentsDir := newTestWatcher(t)
	events := startWatcher(t, w)

	wfDir := filepath.Join(agentsDir, "workflows", "report")
	require.NoError(t, os.MkdirAll(wfDir, 0o755))
	path := filepath.Join(wfDir, "WORKFLOW.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nname: report\npersona: p\n---\ntask\n"), 0o644))

	ev := collect(t, events, WorkflowAdded, 3*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, path, ev.Path)

	// Force a distinct mtime so the diff pass sees the edit.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	ev = collect(t, events, WorkflowChanged, 3*time.Second)
	require.NotNil(t, ev)

	require.NoError(t, os.Remove(path))
	ev = collect(t, events, WorkflowRemoved, 3*time.Second)
	require.NotNil(t, ev)
}

func TestWatcher_PersonaAddedEvent(t *testing.T) {
	w, agentsDir := newTestWatcher(t)
	events := startWatcher(t, w)

	pDir := filepath.Join(agentsDir, "personas", "helper")
	require.NoError(t, os.MkdirAll(pDir, 0o755))
	path := filepath.Join(pDir, "PERSONA.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nname: helper\n---\nprompt\n"), 0o644))

	ev := collect(t, events, PersonaAdded, 3*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, path, ev.Path)
}

func TestReadRetry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "msg.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	data, err := ReadRetry(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReadRetry_ExhaustsAttempts(t *testing.T) {
	_, err := ReadRetry(context.Background(), filepath.Join(t.TempDir(), "never.md"))
	require.Error(t, err)
}
