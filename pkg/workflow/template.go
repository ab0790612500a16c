// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"os"
	"regexp"
)

// Template syntax accepted in workflow bodies and config values:
// a conditional pass over {{#if X}}, {{#if X == "v"}} and {{#unless X}}
// blocks, then ${VAR} expansion. Variables resolve from the execution
// context first, then the process environment; unresolved references
// stay verbatim.
var (
	ifEqRe     = regexp.MustCompile(`(?s)\{\{#if\s+([A-Za-z_][A-Za-z0-9_]*)\s*==\s*"([^"]*)"\s*\}\}(.*?)\{\{/if\}\}`)
	ifRe       = regexp.MustCompile(`(?s)\{\{#if\s+([A-Za-z_][A-Za-z0-9_]*)\s*\}\}(.*?)\{\{/if\}\}`)
	unlessRe   = regexp.MustCompile(`(?s)\{\{#unless\s+([A-Za-z_][A-Za-z0-9_]*)\s*\}\}(.*?)\{\{/unless\}\}`)
	variableRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// maxConditionalPasses bounds the rewrite loop for nested conditionals.
const maxConditionalPasses = 10

// Expand runs the template passes over s with the given context.
func Expand(s string, context map[string]string) string {
	s = expandConditionals(s, context)
	return expandVariables(s, context)
}

// ExpandValue walks arrays and nested maps, expanding every string leaf.
func ExpandValue(v any, context map[string]string) any {
	switch val := v.(type) {
	case string:
		return Expand(val, context)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ExpandValue(item, context)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ExpandValue(item, context)
		}
		return out
	default:
		return v
	}
}

func lookup(name string, context map[string]string) (string, bool) {
	if v, ok := context[name]; ok {
		return v, true
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	return "", false
}

func truthy(name string, context map[string]string) bool {
	v, ok := lookup(name, context)
	return ok && v != ""
}

func expandConditionals(s string, context map[string]string) string {
	for range maxConditionalPasses {
		next := ifEqRe.ReplaceAllStringFunc(s, func(match string) string {
			m := ifEqRe.FindStringSubmatch(match)
			if v, _ := lookup(m[1], context); v == m[2] {
				return m[3]
			}
			return ""
		})
		next = ifRe.ReplaceAllStringFunc(next, func(match string) string {
			m := ifRe.FindStringSubmatch(match)
			if truthy(m[1], context) {
				return m[2]
			}
			return ""
		})
		next = unlessRe.ReplaceAllStringFunc(next, func(match string) string {
			m := unlessRe.FindStringSubmatch(match)
			if !truthy(m[1], context) {
				return m[2]
			}
			return ""
		})
		if next == s {
			return next
		}
		s = next
	}
	return s
}

func expandVariables(s string, context map[string]string) string {
	return variableRe.ReplaceAllStringFunc(s, func(match string) string {
		name := variableRe.FindStringSubmatch(match)[1]
		if v, ok := lookup(name, context); ok {
			return v
		}
		return match
	})
}
