package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mriview/viewer/internal/config"
	"github.com/mriview/viewer/internal/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportRequest(t *testing.T) {
	config.SetDefaults()

	tests := []struct {
		name    string
		args    []string
		want    export.Request
		wantErr bool
	}{
		{
			name: "default format",
			args: []string{"t1", "t2"},
			want: export.Request{Series: []string{"t1", "t2"}, Format: "png"},
		},
		{
			name: "explicit format",
			args: []string{"-format", "pdf", "t1"},
			want: export.Request{Series: []string{"t1"}, Format: "pdf"},
		},
		{name: "missing format value", args: []string{"t1", "-format"}, wantErr: true},
		{name: "unknown format", args: []string{"--format", "tiff", "t1"}, wantErr: true},
		{name: "no series", args: []string{"-format", "png"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exportRequest(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annotations.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"1.0","annotations":[]}`), 0o644))

	doc, err := readDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0", doc.Version)

	_, err = readDocument(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0o644))
	_, err = readDocument(bad)
	assert.Error(t, err)
}

func TestRunCLI_UnknownCommand(t *testing.T) {
	config.SetDefaults()
	assert.Error(t, runCLI([]string{"frobnicate"}))
}
