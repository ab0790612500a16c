// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package api exposes the daemon's HTTP and SSE control surface. It
// binds to loopback; securing it against untrusted callers is out of
// scope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dot-agents/agentsd/pkg/channel"
	"github.com/dot-agents/agentsd/pkg/daemon"
	"github.com/dot-agents/agentsd/pkg/watcher"
	"github.com/dot-agents/agentsd/pkg/workflow"
)

// DefaultPort is the daemon's loopback port.
const DefaultPort = 3141

// heartbeatInterval paces SSE comment pings.
const heartbeatInterval = 30 * time.Second

// sessionListLimit caps GET /sessions.
const sessionListLimit = 20

// Config wires a Server.
type Config struct {
	Port    int
	Daemon  *daemon.Supervisor
	Version string
	Logger  *zap.Logger

	// Heartbeat overrides the SSE ping cadence, used by tests.
	Heartbeat time.Duration
}

// Server is the HTTP/SSE front of the daemon.
type Server struct {
	daemon    *daemon.Supervisor
	version   string
	logger    *zap.Logger
	heartbeat time.Duration

	httpServer *http.Server
	listener   net.Listener
}

// New builds the server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Daemon == nil {
		return nil, fmt.Errorf("daemon supervisor is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = heartbeatInterval
	}

	s := &Server{
		daemon:    cfg.Daemon,
		version:   cfg.Version,
		logger:    cfg.Logger,
		heartbeat: cfg.Heartbeat,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleJob)
	mux.HandleFunc("POST /trigger/{workflow}", s.handleTrigger)
	mux.HandleFunc("GET /workflows", s.handleWorkflows)
	mux.HandleFunc("GET /personas", s.handlePersonas)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("POST /reload", s.handleReload)
	mux.HandleFunc("GET /channels", s.handleChannels)
	mux.HandleFunc("GET /channels/{name}", s.handleChannelRead)
	mux.HandleFunc("GET /channels/{name}/{messageId}", s.handleChannelMessage)
	mux.HandleFunc("POST /channels/{name}", s.handleChannelPublish)
	mux.HandleFunc("POST /channels/{name}/{messageId}/reply", s.handleChannelReply)
	mux.HandleFunc("GET /channels-stream", s.handleStream)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler: mux,
	}
	return s, nil
}

// Start binds the listener and serves in the background. It returns an
// error only when the bind itself fails.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route table, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "running",
		"uptime":  s.daemon.Uptime().Round(time.Second).String(),
		"jobs":    len(s.daemon.Scheduler().GetJobs()),
		"version": s.version,
		"breaker": s.daemon.Breaker().State(),
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.daemon.Scheduler().GetJobs()})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.daemon.Scheduler().GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown job %s", id))
		return
	}
	body := map[string]any{"job": job}
	if store := s.daemon.SchedulerStore(); store != nil {
		if stats, err := store.JobStats(id); err == nil {
			body["stats"] = stats
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("workflow")
	var body struct {
		Inputs map[string]string `json:"inputs"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.daemon.Scheduler().TriggerWorkflow(name, body.Inputs) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": fmt.Sprintf("unknown workflow %s", name),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("workflow %s triggered", name),
	})
}

func (s *Server) handleWorkflows(w http.ResponseWriter, _ *http.Request) {
	type workflowInfo struct {
		Name        string   `json:"name"`
		Description string   `json:"description,omitempty"`
		Persona     string   `json:"persona"`
		Triggers    []string `json:"triggers,omitempty"`
		Inputs      []string `json:"inputs,omitempty"`
	}
	workflows := s.daemon.Workflows()
	infos := make([]workflowInfo, 0, len(workflows))
	for _, wf := range workflows {
		info := workflowInfo{
			Name:        wf.Name,
			Description: wf.Description,
			Persona:     wf.Persona,
			Triggers:    triggerKinds(wf.On),
		}
		for _, input := range wf.Inputs {
			info.Inputs = append(info.Inputs, input.Name)
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": infos})
}

// triggerKinds flattens a trigger set into display strings.
func triggerKinds(on *workflow.Triggers) []string {
	if on == nil {
		return nil
	}
	var kinds []string
	for _, sched := range on.Schedule {
		kinds = append(kinds, "cron: "+sched.Cron)
	}
	if on.Manual {
		kinds = append(kinds, "manual")
	}
	if on.Channel != nil {
		kinds = append(kinds, "channel: "+on.Channel.Channel)
	}
	if on.FileChange {
		kinds = append(kinds, "file_change")
	}
	if on.Webhook {
		kinds = append(kinds, "webhook")
	}
	return kinds
}

func (s *Server) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	personas, err := s.daemon.Resolver().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"personas": personas})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions, err := s.daemon.Sessions().ListRecent(sessionListLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	if err := s.daemon.Reload(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "workflows reloaded",
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	names, err := s.daemon.Channels().ListChannels()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type channelInfo struct {
		Name     string            `json:"name"`
		Metadata *channel.Metadata `json:"metadata,omitempty"`
	}
	infos := make([]channelInfo, 0, len(names))
	for _, name := range names {
		info := channelInfo{Name: name}
		if meta, err := s.daemon.Channels().LoadMetadata(name); err == nil {
			info.Metadata = meta
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": infos})
}

func (s *Server) handleChannelRead(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	opts := channel.ReadOptions{ThreadID: r.URL.Query().Get("thread")}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if _, err := fmt.Sscanf(limit, "%d", &opts.Limit); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", limit))
			return
		}
	}
	if since := r.URL.Query().Get("since"); since != "" {
		d, err := workflow.ParseSince(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Since = time.Now().Add(-d)
	}

	messages, err := s.daemon.Channels().Read(name, opts)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body := map[string]any{"channel": name, "messages": messages}
	if meta, err := s.daemon.Channels().LoadMetadata(name); err == nil {
		body["metadata"] = meta
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleChannelMessage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	msg, err := s.daemon.Channels().GetMessage(name, r.PathValue("messageId"))
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": name, "message": msg})
}

type publishRequest struct {
	Content  string   `json:"content"`
	From     string   `json:"from,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	ThreadID string   `json:"thread_id,omitempty"`
}

func (s *Server) handleChannelPublish(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body publishRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	meta := channel.Meta{From: body.From, Tags: body.Tags}
	var id string
	var err error
	if body.ThreadID != "" {
		id, err = s.daemon.Channels().Reply(name, body.ThreadID, body.Content, meta)
	} else {
		id, err = s.daemon.Channels().Publish(name, body.Content, meta)
	}
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "messageId": id})
}

func (s *Server) handleChannelReply(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body publishRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	id, err := s.daemon.Channels().Reply(name, r.PathValue("messageId"), body.Content, channel.Meta{
		From: body.From,
		Tags: body.Tags,
	})
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "replyId": id})
}

// handleStream fans live channel events out over SSE: a connected event
// on open, one data line per event, a comment ping every heartbeat.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, cancel := s.daemon.Watcher().Subscribe()
	defer cancel()

	fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected"}`)
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != watcher.DMReceived && ev.Type != watcher.ChannelMessage {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func decodeBody(r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
