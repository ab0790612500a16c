// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package frontmatter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_HeaderAndBody(t *testing.T) {
	data := []byte("---\nname: reviewer\ntags:\n  - ci\n---\nDo the thing.\n")

	fields, body, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "reviewer", fields["name"])
	assert.Equal(t, []any{"ci"}, fields["tags"])
	assert.Equal(t, "Do the thing.\n", body)
}

func TestParse_NoHeader(t *testing.T) {
	fields, body, err := Parse([]byte("just a body\n"))
	require.NoError(t, err)
	assert.Nil(t, fields)
	assert.Equal(t, "just a body\n", body)
}

func TestParse_UnterminatedHeader(t *testing.T) {
	fields, body, err := Parse([]byte("---\nname: x\nno closing line"))
	require.NoError(t, err)
	assert.Nil(t, fields)
	assert.Equal(t, "---\nname: x\nno closing line", body)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, _, err := Parse([]byte("---\n: : :\n---\nbody"))
	assert.Error(t, err)
}

func TestSplit_DashPrefixedHeaderLine(t *testing.T) {
	// A header line that merely starts with "---" must not terminate it.
	data := []byte("---\nname: x\ndesc: |\n  ----ish\n---\nbody")
	header, body, ok := Split(data)
	require.True(t, ok)
	assert.Contains(t, string(header), "name: x")
	assert.Equal(t, "body", string(body))
}

func TestMarshal_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"plain", "hello world\n"},
		{"empty", ""},
		{"multiline", "line one\n\nline two\n"},
		{"dashes inside", "a -- b --- c\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := map[string]any{"host": "dev", "from": "agent:bot"}
			data, err := Marshal(header, tc.body)
			require.NoError(t, err)

			fields, body, err := Parse(data)
			require.NoError(t, err)
			assert.Equal(t, "dev", fields["host"])
			assert.Equal(t, "agent:bot", fields["from"])
			assert.Equal(t, tc.body, body)
		})
	}
}

func TestDecode_Typed(t *testing.T) {
	type header struct {
		Host     string   `yaml:"host"`
		From     string   `yaml:"from"`
		Tags     []string `yaml:"tags"`
		ThreadID string   `yaml:"thread_id"`
	}

	data := []byte("---\nhost: dev\nfrom: '@alice'\ntags: [a, b]\nthread_id: 2026-01-02T03:04:05.678Z\n---\nhi\n")
	var h header
	body, err := Decode(data, &h)
	require.NoError(t, err)
	assert.Equal(t, "dev", h.Host)
	assert.Equal(t, "@alice", h.From)
	assert.Equal(t, []string{"a", "b"}, h.Tags)
	assert.Equal(t, "2026-01-02T03:04:05.678Z", h.ThreadID)
	assert.Equal(t, "hi\n", body)
}

func TestBody_StripsHeader(t *testing.T) {
	assert.Equal(t, "x\n", Body([]byte("---\na: 1\n---\nx\n")))
	assert.Equal(t, "x\n", Body([]byte("x\n")))
}
