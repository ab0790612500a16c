// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package frontmatter reads and writes files made of a YAML header
// delimited by "---" lines followed by a Markdown body. Personas,
// workflows, channel messages and session records all share this format.
package frontmatter

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---\n"

// Split separates the raw YAML header from the body. Files without a
// leading delimiter are treated as all-body. The returned header excludes
// both delimiter lines.
func Split(data []byte) (header []byte, body []byte, hasHeader bool) {
	s := string(data)
	if !strings.HasPrefix(s, delimiter) {
		return nil, data, false
	}

	rest := s[len(delimiter):]
	idx := 0
	for {
		i := strings.Index(rest[idx:], "\n---")
		if i < 0 {
			return nil, data, false
		}
		end := idx + i
		after := rest[end+len("\n---"):]
		switch {
		case after == "":
			return []byte(rest[:end+1]), nil, true
		case strings.HasPrefix(after, "\n"):
			return []byte(rest[:end+1]), []byte(after[1:]), true
		}
		// "---" was a prefix of a longer line; keep scanning.
		idx = end + 1
	}
}

// Parse decodes the header into a generic map and returns the body.
// A file without a header yields a nil map.
func Parse(data []byte) (map[string]any, string, error) {
	header, body, ok := Split(data)
	if !ok {
		return nil, string(body), nil
	}
	var fields map[string]any
	if err := yaml.Unmarshal(header, &fields); err != nil {
		return nil, "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	return fields, string(body), nil
}

// Decode unmarshals the header into out and returns the body.
// Missing headers leave out untouched.
func Decode(data []byte, out any) (string, error) {
	header, body, ok := Split(data)
	if !ok {
		return string(body), nil
	}
	if err := yaml.Unmarshal(header, out); err != nil {
		return "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	return string(body), nil
}

// Marshal renders a header value and body back into file form.
// Marshal and Parse round-trip for any body without a "\n---\n" line.
func Marshal(header any, body string) ([]byte, error) {
	headerYAML, err := yaml.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString(delimiter)
	b.Write(headerYAML)
	b.WriteString(delimiter)
	b.WriteString(body)
	return []byte(b.String()), nil
}

// Body returns just the body text, dropping any header.
func Body(data []byte) string {
	_, body, _ := Split(data)
	return string(body)
}
