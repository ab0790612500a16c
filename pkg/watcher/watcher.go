// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package watcher turns filesystem mutations under the agents directory
// into typed events. Observation is polling-based: files delivered by
// cloud-sync agents appear before they are readable and native OS
// notifications cannot be trusted for them. Inotify is used only as a
// hint to poll sooner.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dot-agents/agentsd/internal/bus"
	"github.com/dot-agents/agentsd/pkg/channel"
	"github.com/dot-agents/agentsd/pkg/frontmatter"
	"github.com/dot-agents/agentsd/pkg/persona"
	"github.com/dot-agents/agentsd/pkg/workflow"
)

// EventType tags a watcher event.
type EventType string

// Event types emitted by the watcher.
const (
	WorkflowAdded   EventType = "workflow:added"
	WorkflowChanged EventType = "workflow:changed"
	WorkflowRemoved EventType = "workflow:removed"
	PersonaAdded    EventType = "persona:added"
	PersonaChanged  EventType = "persona:changed"
	PersonaRemoved  EventType = "persona:removed"
	DMReceived      EventType = "dm:received"
	ChannelMessage  EventType = "channel:message"
)

// Event is one observed mutation.
type Event struct {
	Type EventType `json:"type"`
	// Path is the definition file for workflow/persona events.
	Path string `json:"path,omitempty"`
	// Channel, MessageID and MessagePath are set on channel events.
	Channel     string `json:"channel,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	MessagePath string `json:"-"`
}

// Defaults for the polling cadence.
const (
	DefaultChannelInterval    = 1 * time.Second
	DefaultDefinitionInterval = 5 * time.Second
	DefaultSettleThreshold    = 500 * time.Millisecond
)

// Config configures a Watcher.
type Config struct {
	AgentsDir          string
	ChannelInterval    time.Duration
	DefinitionInterval time.Duration
	// SettleThreshold is how long a file must be stable before it is
	// considered fully written.
	SettleThreshold time.Duration
	Logger          *zap.Logger
}

type pendingFile struct {
	size    int64
	modTime time.Time
	stable  time.Time
}

// Watcher polls the channels, personas and workflows trees and fans
// typed events out to subscribers.
type Watcher struct {
	agentsDir          string
	channelInterval    time.Duration
	definitionInterval time.Duration
	settle             time.Duration
	logger             *zap.Logger

	broker *bus.Broker[Event]
	fsn    *fsnotify.Watcher
	wake   chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	emitted map[string]struct{}
	pending map[string]pendingFile
	defs    map[string]time.Time
	watched map[string]struct{}
}

// New creates a watcher over the given agents directory.
func New(cfg Config) *Watcher {
	if cfg.ChannelInterval <= 0 {
		cfg.ChannelInterval = DefaultChannelInterval
	}
	if cfg.DefinitionInterval <= 0 {
		cfg.DefinitionInterval = DefaultDefinitionInterval
	}
	if cfg.SettleThreshold <= 0 {
		cfg.SettleThreshold = DefaultSettleThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Watcher{
		agentsDir:          cfg.AgentsDir,
		channelInterval:    cfg.ChannelInterval,
		definitionInterval: cfg.DefinitionInterval,
		settle:             cfg.SettleThreshold,
		logger:             cfg.Logger,
		broker:             bus.NewBroker[Event](),
		wake:               make(chan struct{}, 1),
		emitted:            make(map[string]struct{}),
		pending:            make(map[string]pendingFile),
		defs:               make(map[string]time.Time),
		watched:            make(map[string]struct{}),
	}
}

// Subscribe returns a channel of events and a cancel function.
func (w *Watcher) Subscribe() (<-chan Event, func()) {
	return w.broker.Subscribe()
}

// Start primes the watcher against the current tree state (pre-existing
// files do not replay as events) and begins polling.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	// Prime passes: record what already exists without emitting.
	w.scanChannels(ctx, true)
	w.scanDefinitions(true)

	if fsn, err := fsnotify.NewWatcher(); err == nil {
		w.fsn = fsn
		w.addHintWatch(filepath.Join(w.agentsDir, "channels"))
		w.wg.Add(1)
		go w.hintLoop(ctx)
	} else {
		w.logger.Warn("Inotify unavailable, relying on polling alone", zap.Error(err))
	}

	w.wg.Add(2)
	go w.channelLoop(ctx)
	go w.definitionLoop(ctx)

	w.logger.Info("Watcher started",
		zap.String("agents_dir", w.agentsDir),
		zap.Duration("channel_interval", w.channelInterval),
		zap.Duration("definition_interval", w.definitionInterval))
	return nil
}

// Close stops all polling loops and closes subscriber channels.
func (w *Watcher) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.fsn != nil {
		w.fsn.Close()
	}
	w.broker.Close()
}

func (w *Watcher) channelLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.channelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
		w.scanChannels(ctx, false)
	}
}

func (w *Watcher) definitionLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.definitionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanDefinitions(false)
		}
	}
}

func (w *Watcher) hintLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.fsn.Events:
			if !ok {
				return
			}
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case _, ok := <-w.fsn.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) addHintWatch(dir string) {
	if w.fsn == nil {
		return
	}
	w.mu.Lock()
	_, seen := w.watched[dir]
	if !seen {
		w.watched[dir] = struct{}{}
	}
	w.mu.Unlock()
	if !seen {
		// Best effort: polling covers anything inotify misses.
		_ = w.fsn.Add(dir)
	}
}

// scanChannels walks <channels>/<sigil>name/<threadId>/<file>.md. Other
// depths are ignored.
func (w *Watcher) scanChannels(ctx context.Context, prime bool) {
	channelsDir := filepath.Join(w.agentsDir, "channels")
	channels, err := os.ReadDir(channelsDir)
	if err != nil {
		return
	}

	for _, ch := range channels {
		name := ch.Name()
		if !ch.IsDir() || (name[0] != '#' && name[0] != '@') {
			continue
		}
		channelDir := filepath.Join(channelsDir, name)
		w.addHintWatch(channelDir)

		threads, err := os.ReadDir(channelDir)
		if err != nil {
			continue
		}
		for _, th := range threads {
			if !th.IsDir() || strings.HasPrefix(th.Name(), "_") {
				continue
			}
			threadDir := filepath.Join(channelDir, th.Name())
			w.addHintWatch(threadDir)

			files, err := os.ReadDir(threadDir)
			if err != nil {
				continue
			}
			for _, f := range files {
				if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
					continue
				}
				w.observeMessageFile(ctx, name, th.Name(), filepath.Join(threadDir, f.Name()), prime)
			}
		}
	}
}

func (w *Watcher) observeMessageFile(ctx context.Context, channelName, threadID, path string, prime bool) {
	w.mu.Lock()
	if _, done := w.emitted[path]; done {
		w.mu.Unlock()
		return
	}
	if prime {
		w.emitted[path] = struct{}{}
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return
	}

	// Hold the file until its size and mtime stop moving for the settle
	// threshold: cloud-sync writes arrive in pieces.
	w.mu.Lock()
	now := time.Now()
	p, seen := w.pending[path]
	if !seen || p.size != info.Size() || !p.modTime.Equal(info.ModTime()) {
		w.pending[path] = pendingFile{size: info.Size(), modTime: info.ModTime(), stable: now}
		w.mu.Unlock()
		return
	}
	if now.Sub(p.stable) < w.settle {
		w.mu.Unlock()
		return
	}
	w.emitted[path] = struct{}{}
	delete(w.pending, path)
	w.mu.Unlock()

	ev, ok := w.classify(ctx, channelName, threadID, path)
	if !ok {
		return
	}
	w.logger.Debug("Observed channel message",
		zap.String("channel", ev.Channel),
		zap.String("message_id", ev.MessageID),
		zap.String("type", string(ev.Type)))
	w.broker.Publish(ev)
}

// classify decides whether a settled file is an initial message worth an
// event, or a reply to suppress. Replies carry an ISO-timestamp
// thread_id; initial messages carry their own id (equal to the thread
// directory) or a UUID-ish reference.
func (w *Watcher) classify(ctx context.Context, channelName, threadID, path string) (Event, bool) {
	base := strings.TrimSuffix(filepath.Base(path), ".md")
	initial := base == threadID || filepath.Base(path) == "message.md"

	messageID := threadID
	if !initial {
		data, err := ReadRetry(ctx, path)
		if err != nil {
			w.logger.Warn("Message file unreadable after retries, suppressing",
				zap.String("path", path), zap.Error(err))
			return Event{}, false
		}
		var meta channel.Meta
		if _, err := frontmatter.Decode(data, &meta); err != nil {
			w.logger.Warn("Message header unparseable, suppressing",
				zap.String("path", path), zap.Error(err))
			return Event{}, false
		}
		if meta.ThreadID != base && channel.IsMessageID(meta.ThreadID) {
			// Reply shape: never re-trigger on persona responses.
			return Event{}, false
		}
		messageID = base
	}

	eventType := ChannelMessage
	if channelName[0] == '@' {
		eventType = DMReceived
	}
	return Event{
		Type:        eventType,
		Channel:     channelName,
		MessageID:   messageID,
		MessagePath: path,
	}, true
}

// scanDefinitions diffs workflow and persona definition files against the
// previous pass and emits added/changed/removed events.
func (w *Watcher) scanDefinitions(prime bool) {
	current := make(map[string]time.Time)

	workflowsDir := filepath.Join(w.agentsDir, "workflows")
	if entries, err := os.ReadDir(workflowsDir); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(workflowsDir, entry.Name(), workflow.DefinitionFile)
			if info, err := os.Stat(path); err == nil {
				current[path] = info.ModTime()
			}
		}
	}

	if info, err := os.Stat(filepath.Join(w.agentsDir, persona.DefinitionFile)); err == nil {
		current[filepath.Join(w.agentsDir, persona.DefinitionFile)] = info.ModTime()
	}
	personasDir := filepath.Join(w.agentsDir, "personas")
	_ = filepath.WalkDir(personasDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == persona.DefinitionFile {
			if info, err := d.Info(); err == nil {
				current[path] = info.ModTime()
			}
		}
		return nil
	})

	w.mu.Lock()
	previous := w.defs
	w.defs = current
	w.mu.Unlock()

	if prime {
		return
	}

	for path, mtime := range current {
		prev, existed := previous[path]
		switch {
		case !existed:
			w.broker.Publish(Event{Type: definitionEvent(path, "added"), Path: path})
		case !prev.Equal(mtime):
			w.broker.Publish(Event{Type: definitionEvent(path, "changed"), Path: path})
		}
	}
	for path := range previous {
		if _, still := current[path]; !still {
			w.broker.Publish(Event{Type: definitionEvent(path, "removed"), Path: path})
		}
	}
}

func definitionEvent(path, action string) EventType {
	if filepath.Base(path) == workflow.DefinitionFile {
		return EventType("workflow:" + action)
	}
	return EventType("persona:" + action)
}
