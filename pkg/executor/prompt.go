// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/dot-agents/agentsd/pkg/persona"
	"github.com/dot-agents/agentsd/pkg/workflow"
)

const promptSeparator = "\n\n---\n\n"

// Display caps for the discovery block: full descriptions up to
// fullListingCap items, names only up to nameListingCap, truncated above.
const (
	fullListingCap = 10
	nameListingCap = 25
)

// composePrompt builds the full system prompt: expanded persona prompt,
// environment discovery block, then the task (or DM) body. A previous
// transcript, when present, leads the prompt for legacy session resumes.
func (e *Executor) composePrompt(resolved *persona.Resolved, execCtx map[string]string, task, previousTranscript string) string {
	var parts []string
	if previousTranscript != "" {
		parts = append(parts, "# Previous Session Context\n\n"+previousTranscript)
	}
	if p := workflow.Expand(resolved.Prompt, execCtx); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, e.discoveryBlock(), task)
	return strings.Join(parts, promptSeparator)
}

type listing struct {
	name        string
	description string
}

// discoveryBlock summarizes the environment the agent is running in. It
// is regenerated on every invocation so the agent always sees live
// state.
func (e *Executor) discoveryBlock() string {
	var b strings.Builder
	b.WriteString("# Environment\n\n")
	fmt.Fprintf(&b, "Current project: %s\n", e.agentsDir)

	if len(e.registry.Projects) > 0 {
		b.WriteString("\n## Registered projects\n\n")
		names := make([]string, 0, len(e.registry.Projects))
		for name := range e.registry.Projects {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			root := e.registry.Projects[name]
			status := "daemon stopped"
			if daemonAlive(root) {
				status = "daemon running"
			}
			fmt.Fprintf(&b, "- %s (%s): %s\n", name, status, root)
		}
	}

	writeListingSection(&b, "Personas", e.listPersonas())
	writeListingSection(&b, "Workflows", e.listWorkflows())
	writeListingSection(&b, "Channels", e.listChannels())
	return strings.TrimRight(b.String(), "\n")
}

func (e *Executor) listPersonas() []listing {
	infos, err := e.resolver.List()
	if err != nil {
		return nil
	}
	out := make([]listing, 0, len(infos))
	for _, info := range infos {
		out = append(out, listing{name: info.Name, description: info.Description})
	}
	return out
}

func (e *Executor) listWorkflows() []listing {
	workflows, err := workflow.LoadAll(filepath.Join(e.agentsDir, "workflows"), e.logger)
	if err != nil {
		return nil
	}
	out := make([]listing, 0, len(workflows))
	for _, w := range workflows {
		out = append(out, listing{name: w.Name, description: w.Description})
	}
	return out
}

func (e *Executor) listChannels() []listing {
	if e.channels == nil {
		return nil
	}
	names, err := e.channels.ListChannels()
	if err != nil {
		return nil
	}
	out := make([]listing, 0, len(names))
	for _, name := range names {
		out = append(out, listing{name: name})
	}
	return out
}

func writeListingSection(b *strings.Builder, title string, items []listing) {
	fmt.Fprintf(b, "\n## %s\n\n", title)
	switch {
	case len(items) == 0:
		b.WriteString("(none)\n")
	case len(items) <= fullListingCap:
		for _, item := range items {
			if item.description != "" {
				fmt.Fprintf(b, "- %s: %s\n", item.name, item.description)
			} else {
				fmt.Fprintf(b, "- %s\n", item.name)
			}
		}
	case len(items) <= nameListingCap:
		b.WriteString(joinNames(items, len(items)) + "\n")
	default:
		fmt.Fprintf(b, "%s, and %d more (use the HTTP API for the full list)\n",
			joinNames(items, nameListingCap), len(items)-nameListingCap)
	}
}

func joinNames(items []listing, n int) string {
	names := make([]string, 0, n)
	for _, item := range items[:n] {
		names = append(names, item.name)
	}
	return strings.Join(names, ", ")
}

// daemonAlive probes a project's daemon.pid for a live process.
func daemonAlive(agentsDir string) bool {
	data, err := os.ReadFile(filepath.Join(agentsDir, "daemon.pid"))
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
