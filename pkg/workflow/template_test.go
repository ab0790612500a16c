// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_Variables(t *testing.T) {
	ctx := map[string]string{"NAME": "world"}
	assert.Equal(t, "hello world", Expand("hello ${NAME}", ctx))
	assert.Equal(t, "hello ${MISSING}", Expand("hello ${MISSING}", ctx))
}

func TestExpand_EnvFallback(t *testing.T) {
	t.Setenv("WF_TEST_VAR", "from-env")
	ctx := map[string]string{"WF_TEST_VAR": "from-ctx"}
	assert.Equal(t, "from-ctx", Expand("${WF_TEST_VAR}", ctx), "context wins over env")
	assert.Equal(t, "from-env", Expand("${WF_TEST_VAR}", nil))
}

func TestExpand_IfTruthy(t *testing.T) {
	tmpl := `{{#if VERBOSE}}be verbose{{/if}}done`
	assert.Equal(t, "be verbosedone", Expand(tmpl, map[string]string{"VERBOSE": "1"}))
	assert.Equal(t, "done", Expand(tmpl, nil))
	assert.Equal(t, "done", Expand(tmpl, map[string]string{"VERBOSE": ""}))
}

func TestExpand_IfEquals(t *testing.T) {
	tmpl := `{{#if MODE == "fast"}}skip checks{{/if}}`
	assert.Equal(t, "skip checks", Expand(tmpl, map[string]string{"MODE": "fast"}))
	assert.Equal(t, "", Expand(tmpl, map[string]string{"MODE": "slow"}))
	assert.Equal(t, "", Expand(tmpl, nil))
}

func TestExpand_Unless(t *testing.T) {
	tmpl := `{{#unless QUIET}}announce{{/unless}}`
	assert.Equal(t, "announce", Expand(tmpl, nil))
	assert.Equal(t, "", Expand(tmpl, map[string]string{"QUIET": "yes"}))
}

func TestExpand_NestedConditionals(t *testing.T) {
	tmpl := `{{#if A}}outer {{#if B}}inner{{/if}}{{/if}}`
	assert.Equal(t, "outer inner", Expand(tmpl, map[string]string{"A": "1", "B": "1"}))
	assert.Equal(t, "outer ", Expand(tmpl, map[string]string{"A": "1"}))
	assert.Equal(t, "", Expand(tmpl, map[string]string{"B": "1"}))
}

func TestExpand_MultilineBlock(t *testing.T) {
	tmpl := "before\n{{#if X}}\nline one\nline two\n{{/if}}\nafter"
	out := Expand(tmpl, map[string]string{"X": "on"})
	assert.Contains(t, out, "line one\nline two")
}

func TestExpand_ConditionalThenVariable(t *testing.T) {
	tmpl := `{{#if TARGET}}deploy to ${TARGET}{{/if}}`
	assert.Equal(t, "deploy to prod", Expand(tmpl, map[string]string{"TARGET": "prod"}))
}

func TestExpandValue_WalksNestedStructures(t *testing.T) {
	ctx := map[string]string{"HOST": "db1"}
	in := map[string]any{
		"url":   "postgres://${HOST}/app",
		"count": 3,
		"tags":  []any{"${HOST}", "static"},
		"nested": map[string]any{
			"dsn": "${HOST}",
		},
	}

	out, ok := ExpandValue(in, ctx).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "postgres://db1/app", out["url"])
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, []any{"db1", "static"}, out["tags"])
	assert.Equal(t, map[string]any{"dsn": "db1"}, out["nested"])
}

func TestParseDuration(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
	} {
		got, err := ParseDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, in := range []string{"", "5", "5d", "m5", "1.5h"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
}

func TestParseSince(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want time.Duration
	}{
		{"6h", 6 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"1m", 30 * 24 * time.Hour},
	} {
		got, err := ParseSince(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseSince("10s")
	assert.Error(t, err)
}
