package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/estatemap/listing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildGenerated(t *testing.T) {
	save := filepath.Join(t.TempDir(), "demo.pts.zst")
	out, err := execute(t, "build", "--generate", "500", "--seed", "3", "--save", save)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 500 points")
	assert.Contains(t, out, "Zoom")
	assert.Contains(t, out, "Saved "+save)

	points, err := listing.LoadFile(save)
	require.NoError(t, err)
	assert.Len(t, points, 500)
}

func TestBuildFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.geojson")
	require.NoError(t, listing.SaveFile(path, listing.Generate(50, listing.ContinentalUS, 1)))

	out, err := execute(t, "build", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 50 points")
}

func TestBuildNeedsInput(t *testing.T) {
	_, err := execute(t, "build")
	assert.Error(t, err)

	_, err = execute(t, "build", "x.geojson", "--generate", "10")
	assert.Error(t, err)
}

func TestProfileSingleRun(t *testing.T) {
	out, err := execute(t, "profile", "--points", "2000", "--zoom", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Build completed")
	assert.Contains(t, out, "Query returned")
}
