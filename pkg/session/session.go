// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package session persists one auditable record per agent invocation.
// Sessions are written as directories under the sessions root; the older
// thread-in-#sessions representation is still readable.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dot-agents/agentsd/pkg/frontmatter"
)

// IDLayout names session directories sortably by start time.
const IDLayout = "2006-01-02T15-04-05"

const (
	recordFile   = "session.md"
	workspaceDir = "workspace"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Execution modes and trigger types recorded in the session header.
const (
	ModeHeadless    = "headless"
	ModeInteractive = "interactive"

	TriggerManual  = "manual"
	TriggerCron    = "cron"
	TriggerDM      = "dm"
	TriggerChannel = "channel"
)

// Runtime describes where and how the invocation ran.
type Runtime struct {
	Hostname      string `yaml:"hostname" json:"hostname"`
	ExecutionMode string `yaml:"executionMode" json:"executionMode"`
	TriggerType   string `yaml:"triggerType" json:"triggerType"`
	WorkingDir    string `yaml:"workingDir,omitempty" json:"workingDir,omitempty"`
}

// Result is recorded on finalize.
type Result struct {
	Success  bool   `yaml:"success" json:"success"`
	ExitCode int    `yaml:"exitCode" json:"exitCode"`
	Duration string `yaml:"duration" json:"duration"`
	Error    string `yaml:"error,omitempty" json:"error,omitempty"`
}

// Header is the YAML front of session.md.
type Header struct {
	Runtime  Runtime `yaml:"runtime" json:"runtime"`
	Goal     string  `yaml:"goal,omitempty" json:"goal,omitempty"`
	Upstream string  `yaml:"upstream,omitempty" json:"upstream,omitempty"`
	Persona  string  `yaml:"persona,omitempty" json:"persona,omitempty"`
	Workflow string  `yaml:"workflow,omitempty" json:"workflow,omitempty"`
	Started  string  `yaml:"started" json:"started"`
	Ended    string  `yaml:"ended,omitempty" json:"ended,omitempty"`
	Result   *Result `yaml:"result,omitempty" json:"result,omitempty"`
}

// Session is one invocation record.
type Session struct {
	ID         string `json:"id"`
	Dir        string `json:"-"`
	Header     Header `json:"header"`
	Transcript string `json:"transcript,omitempty"`
}

// Workspace returns the session's scratch directory.
func (s *Session) Workspace() string {
	return filepath.Join(s.Dir, workspaceDir)
}

// CreateOptions seeds a new session record.
type CreateOptions struct {
	ExecutionMode string
	TriggerType   string
	WorkingDir    string
	Goal          string
	Upstream      string
	Persona       string
	Workflow      string
}

// Store manages session directories under one sessions root.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore returns a store over the given sessions directory.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the sessions root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Create allocates a session directory and writes the initial record.
// Two sessions starting in the same second get a random suffix on the
// second id instead of colliding.
func (s *Store) Create(opts CreateOptions) (*Session, error) {
	id := time.Now().Format(IDLayout)
	dir := filepath.Join(s.dir, id)
	if _, err := os.Stat(dir); err == nil {
		id = id + "-" + uuid.NewString()[:8]
		dir = filepath.Join(s.dir, id)
	}
	if err := os.MkdirAll(filepath.Join(dir, workspaceDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	hostname, _ := os.Hostname()
	sess := &Session{
		ID:  id,
		Dir: dir,
		Header: Header{
			Runtime: Runtime{
				Hostname:      hostname,
				ExecutionMode: opts.ExecutionMode,
				TriggerType:   opts.TriggerType,
				WorkingDir:    opts.WorkingDir,
			},
			Goal:     opts.Goal,
			Upstream: opts.Upstream,
			Persona:  opts.Persona,
			Workflow: opts.Workflow,
			Started:  time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := s.write(sess); err != nil {
		return nil, err
	}

	s.logger.Debug("Created session",
		zap.String("session_id", id),
		zap.String("persona", opts.Persona),
		zap.String("trigger", opts.TriggerType))
	return sess, nil
}

// AppendTranscript adds text to the session body and persists it.
func (s *Store) AppendTranscript(sess *Session, text string) error {
	if text == "" {
		return nil
	}
	if sess.Transcript != "" && !strings.HasSuffix(sess.Transcript, "\n") {
		sess.Transcript += "\n"
	}
	sess.Transcript += text
	return s.write(sess)
}

// Finalize records the outcome and end time. It is safe to call on any
// exit path, including after subprocess failure.
func (s *Store) Finalize(sess *Session, result Result) error {
	sess.Header.Ended = time.Now().UTC().Format(time.RFC3339)
	sess.Header.Result = &result
	if err := s.write(sess); err != nil {
		return err
	}
	s.logger.Debug("Finalized session",
		zap.String("session_id", sess.ID),
		zap.Bool("success", result.Success),
		zap.Int("exit_code", result.ExitCode))
	return nil
}

// Load reads one session by id.
func (s *Store) Load(id string) (*Session, error) {
	dir := filepath.Join(s.dir, id)
	data, err := os.ReadFile(filepath.Join(dir, recordFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}

	var header Header
	body, err := frontmatter.Decode(data, &header)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return &Session{ID: id, Dir: dir, Header: header, Transcript: body}, nil
}

// ListRecent returns up to limit sessions, newest first. Unreadable
// entries are skipped.
func (s *Store) ListRecent(limit int) ([]*Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	var sessions []*Session
	for _, id := range ids {
		if limit > 0 && len(sessions) >= limit {
			break
		}
		sess, err := s.Load(id)
		if err != nil {
			s.logger.Warn("Skipping unreadable session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// LoadFromThread reads a session stored in the legacy form: a thread in
// the #sessions channel whose initial message carries the session header.
// Only reads use this shape; new sessions are always directory-based.
func LoadFromThread(channelsDir, threadID string) (*Session, error) {
	threadDir := filepath.Join(channelsDir, "#sessions", threadID)
	path := filepath.Join(threadDir, threadID+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", threadID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read session thread %s: %w", threadID, err)
	}

	var header Header
	body, err := frontmatter.Decode(data, &header)
	if err != nil {
		return nil, fmt.Errorf("session thread %s: %w", threadID, err)
	}
	if header.Started == "" {
		header.Started = threadID
	}
	return &Session{ID: threadID, Dir: threadDir, Header: header, Transcript: body}, nil
}

func (s *Store) write(sess *Session) error {
	data, err := frontmatter.Marshal(sess.Header, sess.Transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}
	if err := os.WriteFile(filepath.Join(sess.Dir, recordFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write session %s: %w", sess.ID, err)
	}
	return nil
}
