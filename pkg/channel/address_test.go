// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package channel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAddress_LocalNames(t *testing.T) {
	reg := &Registry{Projects: map[string]string{}}

	addr, err := ResolveAddress("#general", "/tmp/agents/channels", reg)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/agents/channels", addr.Dir)
	assert.Equal(t, "#general", addr.LocalName)
	assert.False(t, addr.IsProjectEntryPoint)

	addr, err = ResolveAddress("@helper", "/tmp/agents/channels", reg)
	require.NoError(t, err)
	assert.Equal(t, "@helper", addr.LocalName)
}

func TestResolveAddress_ProjectEntryPoint(t *testing.T) {
	reg := &Registry{Projects: map[string]string{"blog": "/work/blog/.agents"}}

	addr, err := ResolveAddress("@blog", "/tmp/local", reg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work/blog/.agents", "channels"), addr.Dir)
	assert.Equal(t, "@root", addr.LocalName)
	assert.True(t, addr.IsProjectEntryPoint)
	assert.Equal(t, "blog", addr.ProjectName)
}

func TestResolveAddress_ProjectPrefixed(t *testing.T) {
	reg := &Registry{Projects: map[string]string{"blog": "/work/blog/.agents"}}

	addr, err := ResolveAddress("@blog/editor", "/tmp/local", reg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work/blog/.agents", "channels"), addr.Dir)
	assert.Equal(t, "@editor", addr.LocalName)
	assert.Equal(t, "blog", addr.ProjectName)

	addr, err = ResolveAddress("#blog/issues", "/tmp/local", reg)
	require.NoError(t, err)
	assert.Equal(t, "#issues", addr.LocalName)

	_, err = ResolveAddress("@nope/editor", "/tmp/local", reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown project")
}

func TestResolveAddress_HashNeverMatchesProject(t *testing.T) {
	reg := &Registry{Projects: map[string]string{"blog": "/work/blog/.agents"}}

	addr, err := ResolveAddress("#blog", "/tmp/local", reg)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/local", addr.Dir)
	assert.Equal(t, "#blog", addr.LocalName)
}

func TestResolveAddress_Invalid(t *testing.T) {
	for _, in := range []string{"", "general", "@", "#"} {
		_, err := ResolveAddress(in, "/tmp/local", nil)
		assert.Error(t, err, in)
	}
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yaml")
	require.NoError(t, os.WriteFile(path, []byte("projects:\n  blog: /work/blog/.agents\n"), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, "/work/blog/.agents", reg.Projects["blog"])
}

func TestLoadRegistry_Missing(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, reg.Projects)
}
