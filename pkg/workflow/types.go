// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package workflow loads declarative workflow definitions: a persona
// reference, a task body, a trigger set and typed inputs.
package workflow

import (
	"fmt"
	"time"
)

// Workflow is one WORKFLOW.md definition.
type Workflow struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Persona     string            `yaml:"persona"`
	On          *Triggers         `yaml:"on"`
	Inputs      []Input           `yaml:"inputs"`
	Outputs     []Output          `yaml:"outputs"`
	Env         map[string]string `yaml:"env"`
	Timeout     string            `yaml:"timeout"`
	WorkingDir  string            `yaml:"working_dir"`
	Retry       *RetryPolicy      `yaml:"retry"`

	// Task is the Markdown body: the prompt template handed to the agent.
	Task string `yaml:"-"`
	// Path is the file the workflow was loaded from.
	Path string `yaml:"-"`
}

// Triggers is the workflow trigger set.
type Triggers struct {
	Schedule   []ScheduleTrigger `yaml:"schedule"`
	Manual     bool              `yaml:"manual"`
	FileChange bool              `yaml:"file_change"`
	Webhook    bool              `yaml:"webhook"`
	Channel    *ChannelTrigger   `yaml:"channel"`
}

// ScheduleTrigger is one cron entry.
type ScheduleTrigger struct {
	Cron   string            `yaml:"cron"`
	Inputs map[string]string `yaml:"inputs"`
}

// ChannelTrigger runs the workflow on every initial message published to
// the named channel.
type ChannelTrigger struct {
	Channel string            `yaml:"channel"`
	Inputs  map[string]string `yaml:"inputs"`
}

// Input is a declared workflow input.
type Input struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Required    bool     `yaml:"required"`
	Default     string   `yaml:"default"`
	Enum        []string `yaml:"enum"`
	Description string   `yaml:"description"`
}

// Output is a declared workflow output.
type Output struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// RetryPolicy controls re-execution after failure.
type RetryPolicy struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Delay       string `yaml:"delay"`
}

// TimeoutDuration parses the workflow timeout; zero means unset.
func (w *Workflow) TimeoutDuration() (time.Duration, error) {
	if w.Timeout == "" {
		return 0, nil
	}
	return ParseDuration(w.Timeout)
}

// ResolveInputs validates provided values against the declared inputs,
// applies defaults, and rejects missing required or out-of-enum values.
func (w *Workflow) ResolveInputs(provided map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(provided)+len(w.Inputs))
	for k, v := range provided {
		out[k] = v
	}
	for _, input := range w.Inputs {
		value, ok := out[input.Name]
		if !ok || value == "" {
			if input.Default != "" {
				out[input.Name] = input.Default
				continue
			}
			if input.Required {
				return nil, fmt.Errorf("workflow %s: missing required input %s", w.Name, input.Name)
			}
			continue
		}
		if len(input.Enum) > 0 && !inEnum(input.Enum, value) {
			return nil, fmt.Errorf("workflow %s: input %s value %q not in enum %v", w.Name, input.Name, value, input.Enum)
		}
	}
	return out, nil
}

func inEnum(enum []string, value string) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}
