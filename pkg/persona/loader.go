// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dot-agents/agentsd/pkg/frontmatter"
)

// DefinitionFile is the file name a persona directory is recognized by.
const DefinitionFile = "PERSONA.md"

// ErrNotFound is returned when a persona path has no definition file.
var ErrNotFound = errors.New("persona not found")

const mcpSchema = `{
	"type": "object",
	"required": ["mcpServers"],
	"properties": {
		"mcpServers": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["command"],
				"properties": {
					"command": {"type": "string"},
					"args": {"type": "array", "items": {"type": "string"}},
					"env": {"type": "object", "additionalProperties": {"type": "string"}}
				}
			}
		}
	}
}`

const hooksSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "array",
		"items": {
			"type": "object",
			"required": ["hooks"],
			"properties": {
				"hooks": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["type", "command"],
						"properties": {
							"type": {"type": "string"},
							"command": {"type": "string"},
							"timeout": {"type": "integer"}
						}
					}
				}
			}
		}
	}
}`

// Load reads a persona definition from dir, including the optional
// mcp.json and hooks.json side files.
func Load(dir string) (*Persona, error) {
	defPath := filepath.Join(dir, DefinitionFile)
	data, err := os.ReadFile(defPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, defPath)
		}
		return nil, fmt.Errorf("failed to read %s: %w", defPath, err)
	}

	var p Persona
	body, err := frontmatter.Decode(data, &p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", defPath, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%s: missing required field name", defPath)
	}
	p.Prompt = strings.TrimSpace(body)
	p.Path = dir

	if p.MCP, err = loadMCP(dir); err != nil {
		return nil, err
	}
	if p.Hooks, err = loadHooks(dir); err != nil {
		return nil, err
	}
	return &p, nil
}

func loadMCP(dir string) (*MCPConfig, error) {
	path := filepath.Join(dir, "mcp.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := validateJSON(mcpSchema, data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var cfg MCPConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func loadHooks(dir string) (HooksConfig, error) {
	path := filepath.Join(dir, "hooks.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := validateJSON(hooksSchema, data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var cfg HooksConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func validateJSON(schema string, doc []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// builtinBase is the persona bundled with the binary; every resolution
// chain starts here unless its root opts out with extends: none.
func builtinBase() *Persona {
	return &Persona{
		Name: "_base",
		Path: "_base",
		Prompt: strings.TrimSpace(`
You are an agent persona managed by the agentsd daemon.

Messages may arrive from humans or other agents through channels. When a
message carries a FROM_ADDRESS, reply to that address rather than starting
a new thread. Keep working files inside your session workspace.
`),
	}
}
