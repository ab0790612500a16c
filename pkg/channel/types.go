// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package channel implements the file-backed message store. A channel is
// a directory named with a # (public) or @ (direct-message) sigil; each
// thread inside it is a directory named by its initial message id.
package channel

import (
	"time"
)

// MessageIDLayout is the id format for messages and threads. Millisecond
// precision keeps lexicographic order equal to chronological order.
const MessageIDLayout = "2006-01-02T15:04:05.000Z"

// Meta is the YAML header of a message file.
type Meta struct {
	Host     string   `yaml:"host,omitempty" json:"host,omitempty"`
	From     string   `yaml:"from,omitempty" json:"from,omitempty"`
	RunID    string   `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	ThreadID string   `yaml:"thread_id,omitempty" json:"thread_id,omitempty"`
}

// Message is one published message, with its replies when read through
// the thread view.
type Message struct {
	ID      string     `json:"id"`
	Channel string     `json:"channel"`
	Meta    Meta       `json:"meta"`
	Content string     `json:"content"`
	Path    string     `json:"-"`
	Replies []*Message `json:"replies,omitempty"`
}

// Metadata is the per-channel _metadata.yaml record.
type Metadata struct {
	Name      string `yaml:"name" json:"name"`
	CreatedBy string `yaml:"created_by" json:"created_by"`
	CreatedAt string `yaml:"created_at" json:"created_at"`
}

// LastProcessed is the per-channel _last_processed.yaml record. The file
// is not locked: two processors racing on one channel may see the same
// message, so delivery is at-least-once and safeguards absorb the
// duplicates.
type LastProcessed struct {
	LastProcessedAt string `yaml:"last_processed_at"`
	ProcessedBy     string `yaml:"processed_by"`
}

// ReadOptions filters a channel read.
type ReadOptions struct {
	// Limit caps the number of threads returned; zero means no cap.
	Limit int
	// Since drops threads whose id parses to a time at or before it.
	Since time.Time
	// ThreadID keeps only the initial message whose thread_id matches.
	ThreadID string
}

// ParseMessageID parses a message or thread id back into a timestamp.
func ParseMessageID(id string) (time.Time, error) {
	return time.Parse(MessageIDLayout, id)
}

// IsMessageID reports whether s has the id shape. The watcher relies on
// this to tell replies (ISO thread_id) apart from initial messages.
func IsMessageID(s string) bool {
	_, err := ParseMessageID(s)
	return err == nil
}
