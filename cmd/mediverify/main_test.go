package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClassify(t *testing.T) {
	out, err := run(t, "classify", "DEMO-GEN-001", "DEMO-FAKE-002", "NOPE")
	require.NoError(t, err)
	assert.Contains(t, out, "DEMO-GEN-001: GENUINE")
	assert.Contains(t, out, "Paracetamol 500mg")
	assert.Contains(t, out, "DEMO-FAKE-002: COUNTERFEIT")
	assert.Contains(t, out, "NOPE: UNKNOWN")
	assert.NotContains(t, out, "(offline)")

	out, err = run(t, "classify", "--offline", "DEMO-GEN-001")
	require.NoError(t, err)
	assert.Contains(t, out, "DEMO-GEN-001: GENUINE")
	assert.Contains(t, out, "(offline)")

	_, err = run(t, "classify")
	assert.Error(t, err)
}

func TestNav(t *testing.T) {
	out, err := run(t, "nav", "--role", "admin", "--surface", "sidebar")
	require.NoError(t, err)
	assert.Contains(t, out, "Admin Panel")
	assert.Contains(t, out, "5. Settings")

	out, err = run(t, "nav")
	require.NoError(t, err)
	assert.Contains(t, out, "Role: patient")
	assert.NotContains(t, out, "Admin")

	_, err = run(t, "nav", "--role", "root")
	assert.Error(t, err)
}

func TestHotspots(t *testing.T) {
	out, err := run(t, "hotspots")
	require.NoError(t, err)
	assert.Contains(t, out, "Total detections: 113")
	assert.Contains(t, out, "High-risk locations: 2")
	assert.Contains(t, out, "1. New York")

	path := filepath.Join(t.TempDir(), "incidents.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"location": {"name": "A"}, "count": 0},
		{"location": {"name": "B"}, "count": 0}
	]`), 0o600))
	out, err = run(t, "hotspots", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Total detections: 0")

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o600))
	_, err = run(t, "hotspots", "--file", empty)
	assert.Error(t, err)
}

func TestDemoCodes(t *testing.T) {
	out, err := run(t, "demo-codes")
	require.NoError(t, err)
	assert.Contains(t, out, "DEMO-UNKNOWN-001")
	assert.Contains(t, out, "DEMO-FAKE-001")
}
