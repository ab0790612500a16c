// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	durationRe = regexp.MustCompile(`^(\d+)(s|m|h)$`)
	sinceRe    = regexp.MustCompile(`^(\d+)(h|d|w|m)$`)
)

// ParseDuration parses executor timeout strings of the form 30s, 5m, 1h.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: expected <n>s, <n>m or <n>h", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	default:
		return time.Duration(n) * time.Hour, nil
	}
}

// ParseSince parses channel history windows of the form 6h, 7d, 2w, 1m.
// Here m means months (30 days), not minutes.
func ParseSince(s string) (time.Duration, error) {
	m := sinceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid since %q: expected <n>h, <n>d, <n>w or <n>m", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid since %q: %w", s, err)
	}
	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return time.Duration(n) * 30 * 24 * time.Hour, nil
	}
}
