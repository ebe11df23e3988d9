package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.txt")
	content := "# course repositories\nocto/one\n\n  https://github.com/octo/two  \n#octo/three\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	inputs, err := readInputs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"octo/one", "https://github.com/octo/two"}, inputs)

	_, err = readInputs(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
