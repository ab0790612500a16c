// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package executor composes prompts, spawns agent subprocesses and
// records every invocation as a session. The subprocess contract is
// stdin = prompt, stdout = response, exit code = success.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dot-agents/agentsd/pkg/channel"
	"github.com/dot-agents/agentsd/pkg/persona"
	"github.com/dot-agents/agentsd/pkg/session"
	"github.com/dot-agents/agentsd/pkg/workflow"
)

// DefaultTimeout bounds headless runs when neither the workflow nor the
// caller sets one.
const DefaultTimeout = 10 * time.Minute

// knownWrapper is the agent CLI that understands --mcp-config and
// --settings; side files are only injected for it.
const knownWrapper = "claude"

// dmHeader introduces the raw message body on direct-message runs.
const dmHeader = "You received a direct message:"

// Config wires an Executor.
type Config struct {
	AgentsDir      string
	Resolver       *persona.Resolver
	Channels       *channel.Store
	Sessions       *session.Store
	Registry       *channel.Registry
	DefaultTimeout time.Duration
	Logger         *zap.Logger
}

// Executor runs workflows and persona invocations.
type Executor struct {
	agentsDir      string
	resolver       *persona.Resolver
	channels       *channel.Store
	sessions       *session.Store
	registry       *channel.Registry
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// New validates the config and returns an executor.
func New(cfg Config) (*Executor, error) {
	if cfg.AgentsDir == "" {
		return nil, fmt.Errorf("agents directory is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("persona resolver is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = &channel.Registry{Projects: map[string]string{}}
	}
	return &Executor{
		agentsDir:      cfg.AgentsDir,
		resolver:       cfg.Resolver,
		channels:       cfg.Channels,
		sessions:       cfg.Sessions,
		registry:       cfg.Registry,
		defaultTimeout: cfg.DefaultTimeout,
		logger:         cfg.Logger,
	}, nil
}

// RunOptions parameterize a workflow run.
type RunOptions struct {
	Inputs      map[string]string
	Interactive bool
	// TriggerType is recorded in the session; defaults to manual.
	TriggerType string
	// SkipFinalize leaves the session open, for interactive runs the
	// human still owns.
	SkipFinalize bool
	EnvOverrides map[string]string
}

// InvokeOptions parameterize a direct persona invocation.
type InvokeOptions struct {
	// Source is the address the message came from, recorded as the
	// session upstream and exported as FROM_ADDRESS.
	Source       string
	FromChannel  string
	FromThread   string
	Goal         string
	Timeout      time.Duration
	Interactive  bool
	SkipFinalize bool
	// PreviousTranscript carries an earlier session's transcript for
	// legacy resumes; it is prepended to the prompt.
	PreviousTranscript string
	EnvOverrides       map[string]string
}

// Result reports one invocation.
type Result struct {
	Success   bool          `json:"success"`
	ExitCode  int           `json:"exitCode"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Duration  time.Duration `json:"duration"`
	RunID     string        `json:"runId"`
	SessionID string        `json:"sessionId,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
	Error     string        `json:"error,omitempty"`
}

// Run executes a workflow through its persona.
func (e *Executor) Run(ctx context.Context, w *workflow.Workflow, opts RunOptions) (*Result, error) {
	inputs, err := w.ResolveInputs(opts.Inputs)
	if err != nil {
		return nil, err
	}
	resolved, err := e.resolver.Resolve(w.Persona)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", w.Name, err)
	}

	runID := newRunID()
	execCtx := baseContext(runID)
	execCtx["PERSONA_NAME"] = resolved.Name
	execCtx["WORKFLOW_NAME"] = w.Name
	for k, v := range inputs {
		execCtx[k] = v
	}

	triggerType := opts.TriggerType
	if triggerType == "" {
		triggerType = session.TriggerManual
	}
	sess, err := e.sessions.Create(session.CreateOptions{
		ExecutionMode: mode(opts.Interactive),
		TriggerType:   triggerType,
		WorkingDir:    w.WorkingDir,
		Persona:       w.Persona,
		Workflow:      w.Name,
	})
	if err != nil {
		return nil, err
	}
	execCtx["SESSION_DIR"] = sess.Dir

	task := workflow.Expand(w.Task, execCtx)
	prompt := e.composePrompt(resolved, execCtx, task, "")

	timeout := e.defaultTimeout
	if d, err := w.TimeoutDuration(); err == nil && d > 0 {
		timeout = d
	}

	env := e.assembleEnv(resolved.Env, stringAnyMap(w.Env), opts.EnvOverrides, execCtx, sess, resolved.Name, "")
	workingDir := workflow.Expand(w.WorkingDir, execCtx)

	return e.execute(ctx, spawnSpec{
		resolved:     resolved,
		prompt:       prompt,
		env:          env,
		workingDir:   workingDir,
		interactive:  opts.Interactive,
		timeout:      timeout,
		runID:        runID,
		session:      sess,
		skipFinalize: opts.SkipFinalize,
	}), nil
}

// InvokePersona delivers a direct message to a persona.
func (e *Executor) InvokePersona(ctx context.Context, personaName, message string, opts InvokeOptions) (*Result, error) {
	resolved, err := e.resolver.Resolve(personaName)
	if err != nil {
		return nil, err
	}

	runID := newRunID()
	execCtx := baseContext(runID)
	execCtx["PERSONA_NAME"] = resolved.Name
	if opts.Source != "" {
		execCtx["FROM_ADDRESS"] = opts.Source
	}
	if opts.FromChannel != "" {
		execCtx["FROM_CHANNEL"] = opts.FromChannel
	}
	if opts.FromThread != "" {
		execCtx["FROM_THREAD"] = opts.FromThread
	}

	sess, err := e.sessions.Create(session.CreateOptions{
		ExecutionMode: mode(opts.Interactive),
		TriggerType:   session.TriggerDM,
		Goal:          opts.Goal,
		Upstream:      opts.Source,
		Persona:       personaName,
	})
	if err != nil {
		return nil, err
	}
	execCtx["SESSION_DIR"] = sess.Dir

	task := dmHeader + "\n\n" + message
	prompt := e.composePrompt(resolved, execCtx, task, opts.PreviousTranscript)

	timeout := e.defaultTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	env := e.assembleEnv(resolved.Env, nil, opts.EnvOverrides, execCtx, sess, resolved.Name, opts.Source)

	return e.execute(ctx, spawnSpec{
		resolved:     resolved,
		prompt:       prompt,
		env:          env,
		interactive:  opts.Interactive,
		timeout:      timeout,
		runID:        runID,
		session:      sess,
		skipFinalize: opts.SkipFinalize,
	}), nil
}

type spawnSpec struct {
	resolved     *persona.Resolved
	prompt       string
	env          []string
	workingDir   string
	interactive  bool
	timeout      time.Duration
	runID        string
	session      *session.Session
	skipFinalize bool
}

// execute walks the fallback chain until one command exits zero. All
// subprocess failures land in the Result, never as a Go error; the
// session is finalized on every exit path unless the caller keeps it
// open.
func (e *Executor) execute(ctx context.Context, spec spawnSpec) *Result {
	result := &Result{RunID: spec.runID, SessionID: spec.session.ID, StartedAt: time.Now(), ExitCode: -1}

	commands := spec.resolved.Commands.Headless
	if spec.interactive && len(spec.resolved.Commands.Interactive) > 0 {
		commands = spec.resolved.Commands.Interactive
	}

	sideFlags, cleanup, err := e.writeSideFiles(spec.resolved)
	if err != nil {
		e.logger.Warn("Failed to write MCP/hooks side files", zap.Error(err))
		sideFlags = nil
	}
	if cleanup != nil {
		defer cleanup()
	}

	if len(commands) == 0 {
		result.Error = fmt.Sprintf("persona %s has no runnable command", spec.resolved.Name)
	}

	var lastErr string
	for _, command := range commands {
		stdout, stderr, exitCode, err := e.spawnOne(ctx, command, sideFlags, spec)
		result.Stdout = stdout
		result.Stderr = stderr
		result.ExitCode = exitCode
		if err != nil {
			lastErr = err.Error()
			e.logger.Warn("Command failed, trying next fallback",
				zap.String("command", command),
				zap.Int("exit_code", exitCode),
				zap.Error(err))
			continue
		}
		result.Success = true
		lastErr = ""
		break
	}
	if !result.Success {
		result.Error = firstNonEmpty(lastErr, result.Error)
	}

	result.EndedAt = time.Now()
	result.Duration = result.EndedAt.Sub(result.StartedAt)

	e.record(spec, result)
	return result
}

func (e *Executor) spawnOne(ctx context.Context, command string, sideFlags []string, spec spawnSpec) (stdout, stderr string, exitCode int, err error) {
	tokens := strings.Fields(command)
	if len(tokens) == 0 {
		return "", "", -1, fmt.Errorf("empty command")
	}

	promptSubstituted := false
	args := make([]string, 0, len(tokens)-1+len(sideFlags)+1)
	for _, tok := range tokens[1:] {
		if tok == "{PROMPT}" {
			args = append(args, spec.prompt)
			promptSubstituted = true
			continue
		}
		args = append(args, tok)
	}
	if filepath.Base(tokens[0]) == knownWrapper {
		args = append(args, sideFlags...)
	}

	runCtx := ctx
	if !spec.interactive && spec.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.timeout)
		defer cancel()
	}

	if spec.interactive && !promptSubstituted {
		args = append(args, spec.prompt)
	}

	cmd := exec.CommandContext(runCtx, tokens[0], args...)
	cmd.Env = spec.env
	if spec.workingDir != "" {
		cmd.Dir = spec.workingDir
	}
	// Forward cancellation as SIGTERM so the agent can flush its session
	// state, with a hard kill if it lingers.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var outBuf, errBuf bytes.Buffer
	if spec.interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		if !promptSubstituted {
			cmd.Stdin = strings.NewReader(spec.prompt)
		}
		cmd.Stdout = &outBuf
		cmd.Stderr = &errBuf
	}

	e.logger.Info("Spawning agent",
		zap.String("command", tokens[0]),
		zap.String("run_id", spec.runID),
		zap.Bool("interactive", spec.interactive))

	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()

	switch {
	case runErr == nil:
		return stdout, stderr, 0, nil
	case runCtx.Err() == context.DeadlineExceeded:
		return stdout, stderr, exitCodeOf(cmd), fmt.Errorf("timed out after %s", spec.timeout)
	default:
		return stdout, stderr, exitCodeOf(cmd), fmt.Errorf("command %s: %w", tokens[0], runErr)
	}
}

func exitCodeOf(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// record appends the captured output and finalizes the session.
func (e *Executor) record(spec spawnSpec, result *Result) {
	var transcript strings.Builder
	transcript.WriteString("## Output\n\n")
	if result.Stdout != "" {
		transcript.WriteString(result.Stdout)
		transcript.WriteString("\n")
	}
	if result.Stderr != "" {
		transcript.WriteString("\n### stderr\n\n")
		transcript.WriteString(result.Stderr)
		transcript.WriteString("\n")
	}
	if err := e.sessions.AppendTranscript(spec.session, transcript.String()); err != nil {
		e.logger.Warn("Failed to append session transcript", zap.Error(err))
	}

	if spec.skipFinalize {
		return
	}
	if err := e.sessions.Finalize(spec.session, session.Result{
		Success:  result.Success,
		ExitCode: result.ExitCode,
		Duration: result.Duration.Round(time.Millisecond).String(),
		Error:    result.Error,
	}); err != nil {
		e.logger.Warn("Failed to finalize session", zap.Error(err))
	}
}

// writeSideFiles materializes the resolved MCP and hooks configs as temp
// files and returns the wrapper flags referencing them.
func (e *Executor) writeSideFiles(resolved *persona.Resolved) (flags []string, cleanup func(), err error) {
	var paths []string
	cleanup = func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}

	if resolved.MCP != nil && len(resolved.MCP.MCPServers) > 0 {
		path, err := writeTempJSON("agentsd-mcp-*.json", resolved.MCP)
		if err != nil {
			return nil, cleanup, err
		}
		paths = append(paths, path)
		flags = append(flags, "--mcp-config", path)
	}
	if len(resolved.Hooks) > 0 {
		path, err := writeTempJSON("agentsd-settings-*.json", map[string]any{"hooks": resolved.Hooks})
		if err != nil {
			return nil, cleanup, err
		}
		paths = append(paths, path)
		flags = append(flags, "--settings", path)
	}
	return flags, cleanup, nil
}

func writeTempJSON(pattern string, v any) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create side file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write side file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close side file: %w", err)
	}
	return f.Name(), nil
}

// assembleEnv layers process env, persona env, workflow env and caller
// overrides, expanding each value against the execution context, then
// adds the session exports.
func (e *Executor) assembleEnv(personaEnv, workflowEnv map[string]any, overrides map[string]string, execCtx map[string]string, sess *session.Session, personaName, fromAddress string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	overlayAny(merged, personaEnv, execCtx)
	overlayAny(merged, workflowEnv, execCtx)
	for k, v := range overrides {
		merged[k] = workflow.Expand(v, execCtx)
	}

	merged["DOT_AGENTS_PERSONA"] = personaName
	merged["DOT_AGENTS_SESSION_ID"] = sess.ID
	merged["DOT_AGENTS_SESSION_WORKSPACE"] = sess.Workspace()
	merged["SESSION_ID"] = sess.ID
	merged["SESSION_WORKSPACE"] = sess.Workspace()
	if fromAddress != "" {
		merged["FROM_ADDRESS"] = fromAddress
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

// overlayAny flattens scalar values into the env map; nested maps and
// sequences have no environment representation and are skipped.
func overlayAny(dst map[string]string, src map[string]any, execCtx map[string]string) {
	for k, v := range src {
		switch val := v.(type) {
		case string:
			dst[k] = workflow.Expand(val, execCtx)
		case bool, int, int64, float64:
			dst[k] = fmt.Sprint(val)
		}
	}
}

func stringAnyMap(in map[string]string) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func baseContext(runID string) map[string]string {
	now := time.Now()
	return map[string]string{
		"DATE":     now.Format("2006-01-02"),
		"DATETIME": now.Format(time.RFC3339),
		"TIME":     now.Format("15:04:05"),
		"RUN_ID":   runID,
	}
}

func newRunID() string {
	return uuid.NewString()[:8]
}

func mode(interactive bool) string {
	if interactive {
		return session.ModeInteractive
	}
	return session.ModeHeadless
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
