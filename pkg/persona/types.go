// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package persona loads agent persona definitions and resolves them
// along their inheritance chain into a single runnable record.
package persona

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Persona is a single PERSONA.md definition before resolution.
type Persona struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Cmd         *CommandSpec   `yaml:"cmd"`
	Env         map[string]any `yaml:"env"`
	Skills      []string       `yaml:"skills"`
	Extends     string         `yaml:"extends"`

	// Prompt is the Markdown body after the header.
	Prompt string `yaml:"-"`
	// Path is the directory the definition was loaded from.
	// The builtin base persona has path "_base".
	Path string `yaml:"-"`

	MCP   *MCPConfig  `yaml:"-"`
	Hooks HooksConfig `yaml:"-"`
}

// ExtendsNone is the sentinel extends value that opts a persona out of
// the implicit builtin and project ancestors.
const ExtendsNone = "none"

// CommandSpec is the tagged command variant from a persona header:
// a single string, an ordered fallback sequence, or a modes object with
// headless and interactive entries (each again string or sequence).
type CommandSpec struct {
	Headless    []string
	Interactive []string

	// modesObject records whether the source was the {headless,interactive}
	// form; a bare string or sequence counts as headless-only.
	modesObject bool
}

// UnmarshalYAML accepts the three source shapes of a command spec.
func (c *CommandSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		c.Headless = []string{s}
		return nil

	case yaml.SequenceNode:
		var seq []string
		if err := value.Decode(&seq); err != nil {
			return err
		}
		c.Headless = seq
		return nil

	case yaml.MappingNode:
		var modes struct {
			Headless    stringList `yaml:"headless"`
			Interactive stringList `yaml:"interactive"`
		}
		if err := value.Decode(&modes); err != nil {
			return err
		}
		c.Headless = modes.Headless
		c.Interactive = modes.Interactive
		c.modesObject = true
		return nil
	}
	return fmt.Errorf("invalid command spec: expected string, sequence or mapping")
}

// stringList decodes a YAML scalar or sequence into a []string.
type stringList []string

func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = []string{s}
		return nil
	}
	var seq []string
	if err := value.Decode(&seq); err != nil {
		return err
	}
	*l = seq
	return nil
}

// Commands is the normalized command form: two ordered fallback chains.
// Headless is always populated; Interactive may be empty.
type Commands struct {
	Headless    []string
	Interactive []string
}

// Normalize turns a command spec into its resolved form. A spec with only
// interactive commands uses them as the headless fallback.
func (c *CommandSpec) Normalize() (Commands, error) {
	if len(c.Headless) == 0 && len(c.Interactive) == 0 {
		return Commands{}, fmt.Errorf("invalid command spec: at least one of headless or interactive is required")
	}
	out := Commands{
		Headless:    append([]string(nil), c.Headless...),
		Interactive: append([]string(nil), c.Interactive...),
	}
	if len(out.Headless) == 0 {
		out.Headless = append([]string(nil), c.Interactive...)
	}
	return out, nil
}

// MCPServer is one tool-server entry in mcp.json.
type MCPServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// MCPConfig mirrors the mcp.json side file.
type MCPConfig struct {
	MCPServers map[string]MCPServer `json:"mcpServers"`
}

// HookCommand is a single hook invocation.
type HookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// HookEntry groups the hook commands registered for one matcher.
type HookEntry struct {
	Hooks []HookCommand `json:"hooks"`
}

// HooksConfig mirrors the hooks.json side file: event name to ordered
// hook entries.
type HooksConfig map[string][]HookEntry

// Resolved is the result of walking an inheritance chain.
type Resolved struct {
	Name        string
	Description string
	Env         map[string]any
	Skills      []string
	Prompt      string
	MCP         *MCPConfig
	Hooks       HooksConfig
	Commands    Commands

	// InheritanceChain holds source paths from root ancestor to leaf.
	// The builtin base appears as "_base".
	InheritanceChain []string
}
