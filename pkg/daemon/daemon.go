// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package daemon wires the components into one supervised runtime: the
// watcher feeds DM and channel pipelines, the scheduler feeds workflow
// runs, and safeguards sit in front of every invocation.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dot-agents/agentsd/internal/csync"
	"github.com/dot-agents/agentsd/pkg/channel"
	"github.com/dot-agents/agentsd/pkg/executor"
	"github.com/dot-agents/agentsd/pkg/frontmatter"
	"github.com/dot-agents/agentsd/pkg/persona"
	"github.com/dot-agents/agentsd/pkg/safeguards"
	"github.com/dot-agents/agentsd/pkg/scheduler"
	"github.com/dot-agents/agentsd/pkg/session"
	"github.com/dot-agents/agentsd/pkg/watcher"
	"github.com/dot-agents/agentsd/pkg/workflow"
)

// AgentsDirName is the tree the daemon owns.
const AgentsDirName = ".agents"

// PIDFile is written under the agents directory while the daemon runs.
const PIDFile = "daemon.pid"

// FindAgentsDir locates the agents directory by walking parents from
// start, falling back to the user's home directory.
func FindAgentsDir(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", start, err)
	}
	for {
		candidate := filepath.Join(dir, AgentsDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no %s directory found from %s and no home directory: %w", AgentsDirName, start, err)
	}
	candidate := filepath.Join(home, AgentsDirName)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate, nil
	}
	return "", fmt.Errorf("no %s directory found walking up from %s or in %s", AgentsDirName, start, home)
}

// Config wires a Supervisor.
type Config struct {
	AgentsDir    string
	RegistryPath string
	Logger       *zap.Logger

	// Watcher cadence overrides, used by tests.
	ChannelInterval    time.Duration
	DefinitionInterval time.Duration
	SettleThreshold    time.Duration

	RateLimit       int
	RateWindow      time.Duration
	BreakerLimit    int
	BreakerWindow   time.Duration
	BreakerCooldown time.Duration
}

// Supervisor owns component lifecycles.
type Supervisor struct {
	agentsDir string
	logger    *zap.Logger

	channels  *channel.Store
	sessions  *session.Store
	resolver  *persona.Resolver
	registry  *channel.Registry
	sched     *scheduler.Scheduler
	schedDB   *scheduler.Store
	exec      *executor.Executor
	watch     *watcher.Watcher
	limiter   *safeguards.RateLimiter
	breaker   *safeguards.CircuitBreaker

	// channelTriggers maps channel name to the workflow its messages run.
	channelTriggers *csync.Map[string, *workflow.Workflow]
	// workflows is the current registry, keyed by name.
	workflows *csync.Map[string, *workflow.Workflow]

	started time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a supervisor and its components. Nothing runs until Start.
func New(cfg Config) (*Supervisor, error) {
	if cfg.AgentsDir == "" {
		return nil, fmt.Errorf("agents directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = safeguards.DefaultRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = safeguards.DefaultRateWindow
	}
	if cfg.BreakerLimit <= 0 {
		cfg.BreakerLimit = safeguards.DefaultBreakerLimit
	}
	if cfg.BreakerWindow <= 0 {
		cfg.BreakerWindow = safeguards.DefaultBreakerWindow
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = safeguards.DefaultBreakerCooldown
	}

	registryPath := cfg.RegistryPath
	if registryPath == "" {
		if p, err := channel.DefaultRegistryPath(); err == nil {
			registryPath = p
		}
	}
	registry, err := channel.LoadRegistry(registryPath)
	if err != nil {
		cfg.Logger.Warn("Failed to load project registry", zap.Error(err))
		registry = &channel.Registry{Projects: map[string]string{}}
	}

	channels := channel.NewStore(filepath.Join(cfg.AgentsDir, "channels"), cfg.Logger)
	sessions := session.NewStore(filepath.Join(cfg.AgentsDir, "sessions"), cfg.Logger)
	resolver := persona.NewResolver(cfg.AgentsDir, cfg.Logger)

	schedDB, err := scheduler.OpenStore(filepath.Join(cfg.AgentsDir, "scheduler.db"), cfg.Logger)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedDB, cfg.Logger)

	exec, err := executor.New(executor.Config{
		AgentsDir: cfg.AgentsDir,
		Resolver:  resolver,
		Channels:  channels,
		Sessions:  sessions,
		Registry:  registry,
		Logger:    cfg.Logger,
	})
	if err != nil {
		schedDB.Close()
		return nil, err
	}

	watch := watcher.New(watcher.Config{
		AgentsDir:          cfg.AgentsDir,
		ChannelInterval:    cfg.ChannelInterval,
		DefinitionInterval: cfg.DefinitionInterval,
		SettleThreshold:    cfg.SettleThreshold,
		Logger:             cfg.Logger,
	})

	return &Supervisor{
		agentsDir:       cfg.AgentsDir,
		logger:          cfg.Logger,
		channels:        channels,
		sessions:        sessions,
		resolver:        resolver,
		registry:        registry,
		sched:           sched,
		schedDB:         schedDB,
		exec:            exec,
		watch:           watch,
		limiter:         safeguards.NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		breaker:         safeguards.NewCircuitBreaker(cfg.BreakerLimit, cfg.BreakerWindow, cfg.BreakerCooldown),
		channelTriggers: csync.NewMap[string, *workflow.Workflow](),
		workflows:       csync.NewMap[string, *workflow.Workflow](),
	}, nil
}

// Accessors for the HTTP surface.

func (s *Supervisor) AgentsDir() string                   { return s.agentsDir }
func (s *Supervisor) Channels() *channel.Store            { return s.channels }
func (s *Supervisor) Sessions() *session.Store            { return s.sessions }
func (s *Supervisor) Resolver() *persona.Resolver         { return s.resolver }
func (s *Supervisor) Scheduler() *scheduler.Scheduler     { return s.sched }
func (s *Supervisor) SchedulerStore() *scheduler.Store    { return s.schedDB }
func (s *Supervisor) Watcher() *watcher.Watcher           { return s.watch }
func (s *Supervisor) Breaker() *safeguards.CircuitBreaker { return s.breaker }
func (s *Supervisor) Executor() *executor.Executor        { return s.exec }

// Uptime reports time since Start.
func (s *Supervisor) Uptime() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// Workflows returns the current workflow registry sorted by name.
func (s *Supervisor) Workflows() []*workflow.Workflow {
	out := make([]*workflow.Workflow, 0, s.workflows.Len())
	for _, w := range s.workflows.Seq2() {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start loads workflows, starts the scheduler and watcher, wires the
// event pipelines and writes the PID file.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()

	if err := s.loadWorkflows(); err != nil {
		return err
	}
	s.sched.Start()

	triggers, cancelTriggers := s.sched.Subscribe()
	events, cancelEvents := s.watch.Subscribe()
	if err := s.watch.Start(ctx); err != nil {
		cancelTriggers()
		cancelEvents()
		return err
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer cancelTriggers()
		s.triggerWorker(ctx, triggers)
	}()
	go func() {
		defer s.wg.Done()
		defer cancelEvents()
		s.eventWorker(ctx, events)
	}()

	if err := s.writePIDFile(); err != nil {
		return err
	}
	s.logger.Info("Daemon started",
		zap.String("agents_dir", s.agentsDir),
		zap.Int("workflows", s.workflows.Len()))
	return nil
}

// Stop shuts everything down and removes the PID file.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.watch.Close()
	s.sched.Stop()
	s.wg.Wait()
	if s.schedDB != nil {
		s.schedDB.Close()
	}
	os.Remove(filepath.Join(s.agentsDir, PIDFile))
	s.logger.Info("Daemon stopped")
}

// Reload re-reads every workflow definition and rebuilds the scheduler
// registrations and channel-trigger map.
func (s *Supervisor) Reload() error {
	for _, name := range s.workflows.Keys() {
		s.sched.RemoveWorkflow(name)
	}
	s.workflows.Clear()
	s.channelTriggers.Clear()
	return s.loadWorkflows()
}

func (s *Supervisor) loadWorkflows() error {
	workflows, err := workflow.LoadAll(filepath.Join(s.agentsDir, "workflows"), s.logger)
	if err != nil {
		return err
	}
	for _, w := range workflows {
		if err := s.sched.AddWorkflow(w); err != nil {
			s.logger.Warn("Skipping workflow with invalid schedule",
				zap.String("workflow", w.Name), zap.Error(err))
			continue
		}
		s.workflows.Set(w.Name, w)
		if w.On != nil && w.On.Channel != nil {
			s.channelTriggers.Set(w.On.Channel.Channel, w)
			s.logger.Debug("Registered channel trigger",
				zap.String("channel", w.On.Channel.Channel),
				zap.String("workflow", w.Name))
		}
	}
	return nil
}

// triggerWorker runs scheduler firings through the executor and reports
// the outcome back.
func (s *Supervisor) triggerWorker(ctx context.Context, triggers <-chan scheduler.Trigger) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-triggers:
			if !ok {
				return
			}
			s.runTriggered(ctx, tr)
		}
	}
}

func (s *Supervisor) runTriggered(ctx context.Context, tr scheduler.Trigger) {
	if !s.breaker.Allow() {
		s.logger.Warn("Circuit breaker open, skipping scheduled run",
			zap.String("job_id", tr.Job.ID))
		return
	}

	triggerType := session.TriggerCron
	if tr.Job.ID == tr.Workflow.Name+":"+scheduler.ManualSuffix {
		triggerType = session.TriggerManual
	}
	result, err := s.exec.Run(ctx, tr.Workflow, executor.RunOptions{
		Inputs:      tr.Inputs,
		TriggerType: triggerType,
	})
	if err != nil {
		s.logger.Error("Scheduled run failed to start",
			zap.String("workflow", tr.Workflow.Name), zap.Error(err))
		s.sched.UpdateJobStatus(tr.Job.ID, false)
		s.breaker.RecordFailure()
		return
	}
	s.sched.UpdateJobStatus(tr.Job.ID, result.Success)
	s.recordOutcome(result.Success)
}

// eventWorker dispatches watcher events.
func (s *Supervisor) eventWorker(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		}
	}
}

// handleEvent never propagates per-event failures; the daemon runs
// unattended.
func (s *Supervisor) handleEvent(ctx context.Context, ev watcher.Event) {
	switch ev.Type {
	case watcher.DMReceived:
		s.handleDM(ctx, ev)
	case watcher.ChannelMessage:
		s.handleChannelMessage(ctx, ev)
	case watcher.WorkflowAdded, watcher.WorkflowChanged, watcher.WorkflowRemoved:
		s.logger.Info("Workflow definitions changed, reloading",
			zap.String("path", ev.Path), zap.String("event", string(ev.Type)))
		if err := s.Reload(); err != nil {
			s.logger.Error("Workflow reload failed", zap.Error(err))
		}
	case watcher.PersonaAdded, watcher.PersonaChanged, watcher.PersonaRemoved:
		// Personas are resolved from disk on every invocation; nothing
		// cached to evict.
		s.logger.Debug("Persona definition changed", zap.String("path", ev.Path))
	}
}

// handleDM runs the direct-message pipeline: read with retry, self-reply
// check, rate limit, breaker, strip header, invoke, reply upstream.
func (s *Supervisor) handleDM(ctx context.Context, ev watcher.Event) {
	personaName := ev.Channel[1:]

	data, err := watcher.ReadRetry(ctx, ev.MessagePath)
	if err != nil {
		s.logger.Warn("Dropping unreadable DM",
			zap.String("path", ev.MessagePath), zap.Error(err))
		return
	}
	var meta channel.Meta
	body, err := frontmatter.Decode(data, &meta)
	if err != nil {
		s.logger.Warn("Dropping DM with unparseable header",
			zap.String("path", ev.MessagePath), zap.Error(err))
		return
	}

	if safeguards.IsSelfReply(meta.From, personaName) {
		s.logger.Warn("Suppressing self-reply",
			zap.String("persona", personaName),
			zap.String("from", meta.From))
		return
	}
	if !s.limiter.TryInvoke(personaName) {
		s.logger.Warn("Rate limited, dropping DM",
			zap.String("persona", personaName),
			zap.String("message_id", ev.MessageID))
		return
	}
	if !s.breaker.Allow() {
		s.logger.Warn("Circuit breaker open, dropping DM",
			zap.String("persona", personaName))
		return
	}

	result, err := s.exec.InvokePersona(ctx, personaName, body, executor.InvokeOptions{
		Source:      meta.From,
		FromChannel: ev.Channel,
		FromThread:  threadID(meta, ev),
	})
	if err != nil {
		s.logger.Error("Persona invocation failed",
			zap.String("persona", personaName), zap.Error(err))
		s.breaker.RecordFailure()
		return
	}
	s.recordOutcome(result.Success)

	if result.Success && result.Stdout != "" {
		if _, err := s.channels.Reply(ev.Channel, threadID(meta, ev), result.Stdout, channel.Meta{
			From:  "agent:" + personaName,
			RunID: result.RunID,
		}); err != nil {
			s.logger.Warn("Failed to post persona reply",
				zap.String("channel", ev.Channel), zap.Error(err))
		}
	}
	if err := s.channels.MarkProcessed(ev.Channel); err != nil {
		s.logger.Warn("Failed to mark channel processed",
			zap.String("channel", ev.Channel), zap.Error(err))
	}
}

// handleChannelMessage routes a public-channel message through the
// channel-trigger map.
func (s *Supervisor) handleChannelMessage(ctx context.Context, ev watcher.Event) {
	w, ok := s.channelTriggers.Get(ev.Channel)
	if !ok {
		return
	}
	if !s.breaker.Allow() {
		s.logger.Warn("Circuit breaker open, dropping channel message",
			zap.String("channel", ev.Channel))
		return
	}

	data, err := watcher.ReadRetry(ctx, ev.MessagePath)
	if err != nil {
		s.logger.Warn("Dropping unreadable channel message",
			zap.String("path", ev.MessagePath), zap.Error(err))
		return
	}
	body := frontmatter.Body(data)

	inputs := map[string]string{
		"CHANNEL_MESSAGE":    body,
		"CHANNEL_MESSAGE_ID": ev.MessageID,
		"CHANNEL_NAME":       ev.Channel,
	}
	if w.On != nil && w.On.Channel != nil {
		for k, v := range w.On.Channel.Inputs {
			inputs[k] = v
		}
	}

	result, err := s.exec.Run(ctx, w, executor.RunOptions{
		Inputs:      inputs,
		TriggerType: session.TriggerChannel,
	})
	if err != nil {
		s.logger.Error("Channel-triggered run failed to start",
			zap.String("workflow", w.Name), zap.Error(err))
		s.breaker.RecordFailure()
		return
	}
	s.recordOutcome(result.Success)
}

func (s *Supervisor) recordOutcome(success bool) {
	if success {
		s.breaker.RecordSuccess()
	} else {
		s.breaker.RecordFailure()
	}
}

func (s *Supervisor) writePIDFile() error {
	path := filepath.Join(s.agentsDir, PIDFile)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func threadID(meta channel.Meta, ev watcher.Event) string {
	if meta.ThreadID != "" {
		return meta.ThreadID
	}
	return ev.MessageID
}
