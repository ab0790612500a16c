// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package channel

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), zaptest.NewLogger(t))
}

func TestGenerateMessageID_StrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)
	prev := ""
	for range 50 {
		id := s.GenerateMessageID()
		assert.Greater(t, id, prev)
		_, err := ParseMessageID(id)
		require.NoError(t, err)
		prev = id
	}
}

func TestPublishRead_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Publish("#alpha", "hello", Meta{From: "u", Tags: []string{"t1"}})
	require.NoError(t, err)
	assert.True(t, IsMessageID(id))

	messages, err := s.Read("#alpha", ReadOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "u", msg.Meta.From)
	assert.Equal(t, []string{"t1"}, msg.Meta.Tags)
	assert.Equal(t, id, msg.Meta.ThreadID, "initial message thread_id equals its own id")
	assert.NotEmpty(t, msg.Meta.Host)
	assert.Empty(t, msg.Replies)
}

func TestPublish_CreatesMetadataOnce(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Publish("#alpha", "first", Meta{From: "creator"})
	require.NoError(t, err)
	_, err = s.Publish("#alpha", "second", Meta{From: "someone-else"})
	require.NoError(t, err)

	meta, err := s.LoadMetadata("#alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", meta.Name, "metadata name drops the sigil")
	assert.Equal(t, "creator", meta.CreatedBy)
	assert.NotEmpty(t, meta.CreatedAt)
}

func TestPublish_InvalidChannelName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Publish("general", "hi", Meta{})
	require.Error(t, err)
	_, err = s.Publish("#a/b", "hi", Meta{})
	require.Error(t, err)
}

func TestReply_AppendsToThreadAscending(t *testing.T) {
	s := newTestStore(t)

	threadID, err := s.Publish("#alpha", "question", Meta{From: "u"})
	require.NoError(t, err)
	r1, err := s.Reply("#alpha", threadID, "first answer", Meta{From: "agent:bot"})
	require.NoError(t, err)
	r2, err := s.Reply("#alpha", threadID, "second answer", Meta{From: "agent:bot"})
	require.NoError(t, err)

	messages, err := s.Read("#alpha", ReadOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Replies, 2)
	assert.Equal(t, r1, messages[0].Replies[0].ID)
	assert.Equal(t, r2, messages[0].Replies[1].ID)
	assert.Equal(t, threadID, messages[0].Replies[0].Meta.ThreadID)
}

func TestReply_UnknownThread(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Publish("#alpha", "hi", Meta{})
	require.NoError(t, err)

	_, err = s.Reply("#alpha", "2020-01-01T00:00:00.000Z", "orphan", Meta{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRead_NewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		id, err := s.Publish("#alpha", text, Meta{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	messages, err := s.Read("#alpha", ReadOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, ids[2], messages[0].ID)
	assert.Equal(t, ids[1], messages[1].ID)
}

func TestRead_SinceFilter(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Publish("#alpha", "old", Meta{})
	require.NoError(t, err)
	cutoff := time.Now().UTC()
	time.Sleep(10 * time.Millisecond)
	newID, err := s.Publish("#alpha", "new", Meta{})
	require.NoError(t, err)

	messages, err := s.Read("#alpha", ReadOptions{Since: cutoff})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, newID, messages[0].ID)
}

func TestRead_SkipsReservedDirs(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Publish("#alpha", "hi", Meta{})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Dir(), "#alpha", "_archive"), 0o755))

	messages, err := s.Read("#alpha", ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestRead_LegacyInitialFile(t *testing.T) {
	s := newTestStore(t)
	threadID := "2026-01-02T03:04:05.678Z"
	threadDir := filepath.Join(s.Dir(), "#alpha", threadID)
	require.NoError(t, os.MkdirAll(threadDir, 0o755))
	content := "---\nfrom: old-client\n---\nlegacy body\n"
	require.NoError(t, os.WriteFile(filepath.Join(threadDir, "message.md"), []byte(content), 0o644))

	messages, err := s.Read("#alpha", ReadOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, threadID, messages[0].ID)
	assert.Equal(t, "legacy body", messages[0].Content)
	assert.Equal(t, threadID, messages[0].Meta.ThreadID)
}

func TestRead_UnknownChannel(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("#missing", ReadOptions{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetMessage(t *testing.T) {
	s := newTestStore(t)
	threadID, err := s.Publish("#alpha", "root msg", Meta{})
	require.NoError(t, err)
	replyID, err := s.Reply("#alpha", threadID, "a reply", Meta{})
	require.NoError(t, err)

	msg, err := s.GetMessage("#alpha", threadID)
	require.NoError(t, err)
	assert.Equal(t, "root msg", msg.Content)
	require.Len(t, msg.Replies, 1)

	reply, err := s.GetMessage("#alpha", replyID)
	require.NoError(t, err)
	assert.Equal(t, "a reply", reply.Content)

	_, err = s.GetMessage("#alpha", "2020-01-01T00:00:00.000Z")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListChannels(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Publish("#zeta", "z", Meta{})
	require.NoError(t, err)
	_, err = s.Publish("@alice", "a", Meta{})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Dir(), "not-a-channel"), 0o755))

	names, err := s.ListChannels()
	require.NoError(t, err)
	assert.Equal(t, []string{"#zeta", "@alice"}, names)
}

func TestPendingAndMarkProcessed(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Publish("@bot", "one", Meta{})
	require.NoError(t, err)

	pending, err := s.PendingMessages("@bot")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first, pending[0].ID)

	require.NoError(t, s.MarkProcessed("@bot"))
	pending, err = s.PendingMessages("@bot")
	require.NoError(t, err)
	assert.Empty(t, pending)

	time.Sleep(10 * time.Millisecond)
	second, err := s.Publish("@bot", "two", Meta{})
	require.NoError(t, err)
	pending, err = s.PendingMessages("@bot")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)
}

func TestPendingMessages_OldestFirst(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Publish("@bot", "one", Meta{})
	require.NoError(t, err)
	second, err := s.Publish("@bot", "two", Meta{})
	require.NoError(t, err)

	pending, err := s.PendingMessages("@bot")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, second, pending[1].ID)
}

func TestThreadWorkspace(t *testing.T) {
	s := newTestStore(t)
	threadID, err := s.Publish("#alpha", "hi", Meta{})
	require.NoError(t, err)

	ws, err := s.ThreadWorkspace("#alpha", threadID, false)
	require.NoError(t, err)
	_, statErr := os.Stat(ws)
	assert.True(t, os.IsNotExist(statErr), "workspace is created lazily")

	ws, err = s.ThreadWorkspace("#alpha", threadID, true)
	require.NoError(t, err)
	info, err := os.Stat(ws)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = s.ThreadWorkspace("#alpha", "2020-01-01T00:00:00.000Z", true)
	require.ErrorIs(t, err, ErrNotFound)
}
