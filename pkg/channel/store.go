// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package channel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dot-agents/agentsd/pkg/frontmatter"
)

const (
	metadataFile      = "_metadata.yaml"
	lastProcessedFile = "_last_processed.yaml"
	workspaceDir      = "workspace"

	// legacyInitialFile is the pre-threaded initial message name still
	// found in older trees.
	legacyInitialFile = "message.md"
)

// ErrNotFound is returned for unknown channels, threads or messages.
var ErrNotFound = errors.New("not found")

// Store is the file-backed channel store rooted at a channels directory.
// It performs no cross-process locking; safety rests on monotonic message
// ids and per-thread directory creation being the atomic unit.
type Store struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	lastID string
}

// NewStore returns a store over the given channels directory.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the channels root directory.
func (s *Store) Dir() string {
	return s.dir
}

// GenerateMessageID returns the current UTC time as a message id,
// guaranteed strictly greater than any id previously issued by this
// process. Cross-process collisions under sub-millisecond cadence
// overwrite silently; publication rates make that negligible.
func (s *Store) GenerateMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := time.Now().UTC().Format(MessageIDLayout)
	if s.lastID != "" && id <= s.lastID {
		prev, _ := ParseMessageID(s.lastID)
		id = prev.Add(time.Millisecond).Format(MessageIDLayout)
	}
	s.lastID = id
	return id
}

// Publish writes an initial message to channel, creating the channel and
// its thread directory as needed, and returns the new message id.
func (s *Store) Publish(channel, content string, meta Meta) (string, error) {
	if err := validateChannelName(channel); err != nil {
		return "", err
	}
	channelDir := filepath.Join(s.dir, channel)
	if err := os.MkdirAll(channelDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create channel %s: %w", channel, err)
	}
	if err := s.ensureMetadata(channel, channelDir, meta.From); err != nil {
		return "", err
	}

	id := s.GenerateMessageID()
	meta.ThreadID = id
	fillHost(&meta)

	threadDir := filepath.Join(channelDir, id)
	if err := os.MkdirAll(threadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create thread %s: %w", id, err)
	}
	if err := writeMessageFile(filepath.Join(threadDir, id+".md"), meta, content); err != nil {
		return "", err
	}

	s.logger.Debug("Published message",
		zap.String("channel", channel),
		zap.String("message_id", id))
	return id, nil
}

// Reply appends a reply to an existing thread and returns the reply id.
func (s *Store) Reply(channel, threadID, content string, meta Meta) (string, error) {
	threadDir := filepath.Join(s.dir, channel, threadID)
	if info, err := os.Stat(threadDir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("message %s in %s: %w", threadID, channel, ErrNotFound)
	}

	id := s.GenerateMessageID()
	meta.ThreadID = threadID
	fillHost(&meta)

	if err := writeMessageFile(filepath.Join(threadDir, id+".md"), meta, content); err != nil {
		return "", err
	}

	s.logger.Debug("Published reply",
		zap.String("channel", channel),
		zap.String("thread_id", threadID),
		zap.String("reply_id", id))
	return id, nil
}

// Read returns the channel's initial messages newest-first, each with its
// replies oldest-first.
func (s *Store) Read(channel string, opts ReadOptions) ([]*Message, error) {
	channelDir := filepath.Join(s.dir, channel)
	entries, err := os.ReadDir(channelDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("channel %s: %w", channel, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read channel %s: %w", channel, err)
	}

	var messages []*Message
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		threadID := entry.Name()
		if !opts.Since.IsZero() {
			ts, err := ParseMessageID(threadID)
			if err != nil || !ts.After(opts.Since) {
				continue
			}
		}
		msg, err := s.readThread(channel, filepath.Join(channelDir, threadID), threadID)
		if err != nil {
			s.logger.Warn("Skipping unreadable thread",
				zap.String("channel", channel),
				zap.String("thread_id", threadID),
				zap.Error(err))
			continue
		}
		if opts.ThreadID != "" && msg.Meta.ThreadID != opts.ThreadID {
			continue
		}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].ID > messages[j].ID })
	if opts.Limit > 0 && len(messages) > opts.Limit {
		messages = messages[:opts.Limit]
	}
	return messages, nil
}

// GetMessage finds one message by id: the initial message when id names a
// thread, otherwise a reply anywhere in the channel.
func (s *Store) GetMessage(channel, id string) (*Message, error) {
	channelDir := filepath.Join(s.dir, channel)
	threadDir := filepath.Join(channelDir, id)
	if info, err := os.Stat(threadDir); err == nil && info.IsDir() {
		return s.readThread(channel, threadDir, id)
	}

	entries, err := os.ReadDir(channelDir)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", channel, ErrNotFound)
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		path := filepath.Join(channelDir, entry.Name(), id+".md")
		if _, err := os.Stat(path); err == nil {
			return readMessageFile(channel, id, path)
		}
	}
	return nil, fmt.Errorf("message %s in %s: %w", id, channel, ErrNotFound)
}

// ListChannels returns sorted channel names (with sigils).
func (s *Store) ListChannels() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read channels directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() && validateChannelName(entry.Name()) == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadMetadata reads the channel's _metadata.yaml.
func (s *Store) LoadMetadata(channel string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, channel, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("channel %s metadata: %w", channel, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read channel metadata: %w", err)
	}
	var meta Metadata
	if err := unmarshalYAML(data, &meta); err != nil {
		return nil, fmt.Errorf("invalid metadata for %s: %w", channel, err)
	}
	return &meta, nil
}

// PendingMessages returns initial messages whose id is strictly newer
// than the channel's last-processed mark, oldest-first.
func (s *Store) PendingMessages(channel string) ([]*Message, error) {
	var cutoff time.Time
	if lp, err := s.loadLastProcessed(channel); err == nil && lp.LastProcessedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, lp.LastProcessedAt); err == nil {
			cutoff = ts
		}
	}

	messages, err := s.Read(channel, ReadOptions{Since: cutoff})
	if err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	return messages, nil
}

// MarkProcessed advances the channel's last-processed mark to now. The
// mark never moves backwards.
func (s *Store) MarkProcessed(channel string) error {
	now := time.Now().UTC()
	if lp, err := s.loadLastProcessed(channel); err == nil && lp.LastProcessedAt != "" {
		if prev, err := time.Parse(time.RFC3339Nano, lp.LastProcessedAt); err == nil && prev.After(now) {
			return nil
		}
	}

	host, _ := os.Hostname()
	data, err := marshalYAML(LastProcessed{
		LastProcessedAt: now.Format(time.RFC3339Nano),
		ProcessedBy:     host,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal last-processed record: %w", err)
	}
	path := filepath.Join(s.dir, channel, lastProcessedFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write last-processed record: %w", err)
	}
	return nil
}

// ThreadWorkspace returns the thread's workspace directory, creating it
// when create is set.
func (s *Store) ThreadWorkspace(channel, threadID string, create bool) (string, error) {
	threadDir := filepath.Join(s.dir, channel, threadID)
	if info, err := os.Stat(threadDir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("thread %s in %s: %w", threadID, channel, ErrNotFound)
	}
	ws := filepath.Join(threadDir, workspaceDir)
	if create {
		if err := os.MkdirAll(ws, 0o755); err != nil {
			return "", fmt.Errorf("failed to create thread workspace: %w", err)
		}
	}
	return ws, nil
}

func (s *Store) readThread(channel, threadDir, threadID string) (*Message, error) {
	initialPath := filepath.Join(threadDir, threadID+".md")
	initialName := threadID + ".md"
	if _, err := os.Stat(initialPath); err != nil {
		initialPath = filepath.Join(threadDir, legacyInitialFile)
		initialName = legacyInitialFile
		if _, err := os.Stat(initialPath); err != nil {
			return nil, fmt.Errorf("thread %s has no initial message: %w", threadID, ErrNotFound)
		}
	}

	msg, err := readMessageFile(channel, threadID, initialPath)
	if err != nil {
		return nil, err
	}
	if msg.Meta.ThreadID == "" {
		msg.Meta.ThreadID = threadID
	}

	entries, err := os.ReadDir(threadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read thread %s: %w", threadID, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") || name == initialName {
			continue
		}
		replyID := strings.TrimSuffix(name, ".md")
		reply, err := readMessageFile(channel, replyID, filepath.Join(threadDir, name))
		if err != nil {
			s.logger.Warn("Skipping unreadable reply",
				zap.String("channel", channel),
				zap.String("path", filepath.Join(threadDir, name)),
				zap.Error(err))
			continue
		}
		msg.Replies = append(msg.Replies, reply)
	}
	sort.Slice(msg.Replies, func(i, j int) bool { return msg.Replies[i].ID < msg.Replies[j].ID })
	return msg, nil
}

func (s *Store) ensureMetadata(channel, channelDir, createdBy string) error {
	path := filepath.Join(channelDir, metadataFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if createdBy == "" {
		createdBy, _ = os.Hostname()
	}
	data, err := marshalYAML(Metadata{
		Name:      strings.TrimLeft(channel, "#@"),
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal channel metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write channel metadata: %w", err)
	}
	return nil
}

func (s *Store) loadLastProcessed(channel string) (*LastProcessed, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, channel, lastProcessedFile))
	if err != nil {
		return nil, err
	}
	var lp LastProcessed
	if err := unmarshalYAML(data, &lp); err != nil {
		return nil, fmt.Errorf("invalid last-processed record for %s: %w", channel, err)
	}
	return &lp, nil
}

func validateChannelName(name string) error {
	if name == "" || (name[0] != '#' && name[0] != '@') {
		return fmt.Errorf("invalid channel name %q: must start with # or @", name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid channel name %q", name)
	}
	return nil
}

func fillHost(meta *Meta) {
	if meta.Host == "" {
		meta.Host, _ = os.Hostname()
	}
}

func writeMessageFile(path string, meta Meta, content string) error {
	data, err := frontmatter.Marshal(meta, content)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write message %s: %w", path, err)
	}
	return nil
}

func readMessageFile(channel, id, path string) (*Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", path, err)
	}
	var meta Meta
	body, err := frontmatter.Decode(data, &meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Message{
		ID:      id,
		Channel: channel,
		Meta:    meta,
		Content: strings.TrimSpace(body),
		Path:    path,
	}, nil
}
