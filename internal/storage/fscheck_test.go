package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireLocalFilesystem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsType  string
		err     error
		wantErr bool
	}{
		{name: "local ext4", fsType: "local"},
		{name: "apfs", fsType: "apfs"},
		{name: "nfs mount", fsType: "nfs", wantErr: true},
		{name: "smb uppercase", fsType: "SMBFS", wantErr: true},
		{name: "undetectable", err: errors.New("unsupported")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "conduit.db")
			err := requireLocalFilesystem(path, func(string) (string, error) { return tt.fsType, tt.err })
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "state.path")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRequireLocalFilesystemInspectsClosestAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := requireLocalFilesystem(filepath.Join(root, "a", "b", "conduit.db"), func(p string) (string, error) {
		inspected = p
		return "local", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}
