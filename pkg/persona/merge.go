// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package persona

import "strings"

// PromptSeparator joins prompt fragments along the inheritance chain.
const PromptSeparator = "\n\n---\n\n"

// mergeEnv deep-merges child into parent; child values win at each leaf.
// Neither input map is mutated.
func mergeEnv(parent, child map[string]any) map[string]any {
	if parent == nil && child == nil {
		return nil
	}
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		childMap, childIsMap := v.(map[string]any)
		parentMap, parentIsMap := out[k].(map[string]any)
		if childIsMap && parentIsMap {
			out[k] = mergeEnv(parentMap, childMap)
			continue
		}
		out[k] = v
	}
	return out
}

// mergeSkills applies the child's skill list to the parent's: new entries
// append in order, "!x" entries delete the first matching parent entry.
func mergeSkills(parent, child []string) []string {
	out := append([]string(nil), parent...)
	for _, skill := range child {
		if negated, ok := strings.CutPrefix(skill, "!"); ok {
			for i, existing := range out {
				if existing == negated {
					out = append(out[:i], out[i+1:]...)
					break
				}
			}
			continue
		}
		if !contains(out, skill) {
			out = append(out, skill)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// mergePrompt concatenates non-empty fragments with the separator line.
func mergePrompt(parent, child string) string {
	switch {
	case parent == "":
		return child
	case child == "":
		return parent
	}
	return parent + PromptSeparator + child
}

// mergeMCP shallow-merges server maps; a child entry replaces the parent
// entry with the same server name.
func mergeMCP(parent, child *MCPConfig) *MCPConfig {
	if parent == nil {
		return child
	}
	if child == nil {
		return parent
	}
	out := &MCPConfig{MCPServers: make(map[string]MCPServer, len(parent.MCPServers)+len(child.MCPServers))}
	for name, srv := range parent.MCPServers {
		out.MCPServers[name] = srv
	}
	for name, srv := range child.MCPServers {
		out.MCPServers[name] = srv
	}
	return out
}

// mergeHooks appends the child's hook entries after the parent's, per event.
func mergeHooks(parent, child HooksConfig) HooksConfig {
	if parent == nil {
		return child
	}
	if child == nil {
		return parent
	}
	out := make(HooksConfig, len(parent)+len(child))
	for event, entries := range parent {
		out[event] = append([]HookEntry(nil), entries...)
	}
	for event, entries := range child {
		out[event] = append(out[event], entries...)
	}
	return out
}
