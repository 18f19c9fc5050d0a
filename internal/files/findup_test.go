package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	target := filepath.Join(root, "a", "chrome-headless-shell")
	require.NoError(t, os.WriteFile(target, []byte("#!/bin/sh\n"), 0o755))

	found, err := FindUp("chrome-headless-shell", nested)
	require.NoError(t, err)
	assert.Equal(t, target, found)

	found, err = FindUp("does-not-exist-anywhere-"+filepath.Base(root), nested)
	require.NoError(t, err)
	assert.Empty(t, found)
}
