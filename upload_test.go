package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnieminen/libctl/internal/vapi"
)

func TestSourceSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.iso")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))

	tests := []struct {
		name     string
		locator  string
		override vapi.SourceType
		want     int64
	}{
		{
			name:    "bare path",
			locator: path,
			want:    10,
		},
		{
			name:    "file scheme stripped before stat",
			locator: "file://" + path,
			want:    10,
		},
		{
			name:    "pull source has no local size",
			locator: "https://mirror.example/a.iso",
			want:    0,
		},
		{
			name:    "datastore path is not readable locally",
			locator: "ds:/vmfs/volumes/datastore1/a.iso",
			want:    0,
		},
		{
			name:     "pull override suppresses stat of a local path",
			locator:  path,
			override: vapi.SourcePull,
			want:     0,
		},
		{
			name:    "missing file",
			locator: filepath.Join(t.TempDir(), "nope.iso"),
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sourceSize(tt.locator, tt.override))
		})
	}
}
