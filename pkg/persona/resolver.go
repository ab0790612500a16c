// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// RootName addresses the distinguished persona defined at the agents
// directory root rather than inside the personas subtree.
const RootName = "root"

// projectPersona is the optional project-local ancestor prepended to
// every chain after the builtin base.
const projectPersona = "_project"

// Resolver resolves persona references against one agents directory.
type Resolver struct {
	agentsDir   string
	personasDir string
	logger      *zap.Logger
}

// NewResolver creates a resolver for the given agents directory.
func NewResolver(agentsDir string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		agentsDir:   agentsDir,
		personasDir: filepath.Join(agentsDir, "personas"),
		logger:      logger,
	}
}

// Dir returns the directory a persona reference points at.
func (r *Resolver) Dir(personaPath string) string {
	if personaPath == RootName {
		return r.agentsDir
	}
	return filepath.Join(r.personasDir, filepath.FromSlash(personaPath))
}

// Resolve walks the inheritance chain of the referenced persona and
// merges every definition on it into a single record. The reference is a
// path under the personas subtree ("reviewer", "reviewer/strict") or the
// literal "root". Resolution never partially succeeds.
func (r *Resolver) Resolve(personaPath string) (*Resolved, error) {
	target, err := Load(r.Dir(personaPath))
	if err != nil {
		return nil, err
	}

	var chain []*Persona
	visited := map[string]bool{}
	if explicit(target.Extends) {
		chain, err = r.explicitChain(target, visited)
	} else {
		chain, err = r.implicitChain(personaPath, target)
	}
	if err != nil {
		return nil, err
	}

	// The builtin base and the optional project persona front every chain
	// unless the chain root opts out.
	if chain[0].Extends != ExtendsNone {
		ancestors := []*Persona{builtinBase()}
		if proj, err := Load(filepath.Join(r.personasDir, projectPersona)); err == nil {
			ancestors = append(ancestors, proj)
		}
		chain = append(ancestors, chain...)
	}

	return mergeChain(chain)
}

func explicit(extends string) bool {
	return extends != "" && extends != ExtendsNone
}

// explicitChain follows extends references from the target upward and
// returns the chain root-first. Revisiting a path is fatal.
func (r *Resolver) explicitChain(target *Persona, visited map[string]bool) ([]*Persona, error) {
	key := filepath.Clean(target.Path)
	if visited[key] {
		return nil, fmt.Errorf("circular inheritance detected at %s", target.Path)
	}
	visited[key] = true

	if !explicit(target.Extends) {
		return []*Persona{target}, nil
	}

	parentDir := r.Dir(target.Extends)
	parent, err := Load(parentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent %q of %s: %w", target.Extends, target.Path, err)
	}
	chain, err := r.explicitChain(parent, visited)
	if err != nil {
		return nil, err
	}
	return append(chain, target), nil
}

// implicitChain loads every path segment between the personas root and
// the target that carries a definition file, root-first.
func (r *Resolver) implicitChain(personaPath string, target *Persona) ([]*Persona, error) {
	if personaPath == RootName {
		return []*Persona{target}, nil
	}

	var chain []*Persona
	segments := strings.Split(filepath.ToSlash(personaPath), "/")
	dir := r.personasDir
	for _, seg := range segments[:len(segments)-1] {
		dir = filepath.Join(dir, seg)
		ancestor, err := Load(dir)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		chain = append(chain, ancestor)
	}
	return append(chain, target), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// mergeChain folds the chain root-to-leaf under the inheritance merge rules.
func mergeChain(chain []*Persona) (*Resolved, error) {
	out := &Resolved{}
	var cmd *CommandSpec
	for _, p := range chain {
		if p.Name != "" {
			out.Name = p.Name
		}
		if p.Description != "" {
			out.Description = p.Description
		}
		if p.Cmd != nil {
			cmd = p.Cmd
		}
		out.Env = mergeEnv(out.Env, p.Env)
		out.Skills = mergeSkills(out.Skills, p.Skills)
		out.Prompt = mergePrompt(out.Prompt, p.Prompt)
		out.MCP = mergeMCP(out.MCP, p.MCP)
		out.Hooks = mergeHooks(out.Hooks, p.Hooks)
		out.InheritanceChain = append(out.InheritanceChain, p.Path)
	}

	if cmd != nil {
		commands, err := cmd.Normalize()
		if err != nil {
			return nil, fmt.Errorf("persona %s: %w", out.Name, err)
		}
		out.Commands = commands
	}
	return out, nil
}

// Info is a directory listing entry for a persona.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
}

// List enumerates every persona under the tree, including the root
// persona when present. Internal ancestors (leading underscore) are
// excluded. Results are sorted by name.
func (r *Resolver) List() ([]Info, error) {
	var infos []Info

	if p, err := Load(r.agentsDir); err == nil {
		infos = append(infos, Info{Name: RootName, Description: p.Description, Path: r.agentsDir})
	}

	err := filepath.WalkDir(r.personasDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() || path == r.personasDir {
			return nil
		}
		if strings.HasPrefix(d.Name(), "_") {
			return filepath.SkipDir
		}
		p, err := Load(path)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			r.logger.Warn("Skipping unreadable persona", zap.String("path", path), zap.Error(err))
			return nil
		}
		rel, err := filepath.Rel(r.personasDir, path)
		if err != nil {
			return err
		}
		infos = append(infos, Info{Name: filepath.ToSlash(rel), Description: p.Description, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
