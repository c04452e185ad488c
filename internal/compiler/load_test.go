package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCUE(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "balance")
	require.NoError(t, os.Mkdir(dir, 0o755))
	writeCUE(t, dir, "rules.cue", `package balance

rule: net: {
	severity: "info"
	expr: {op: "-", args: [{factset: {concept: "Assets"}}, {factset: {concept: "Liabilities"}}]}
}
`)
	writeCUE(t, dir, "constants.cue", `package balance

constant: threshold: {lit: 50}
`)

	rs, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "balance", rs.Name)
	require.Len(t, rs.Rules, 1)
	require.Len(t, rs.Constants, 1)
	assert.NotEmpty(t, rs.Hash)

	// Editing any file changes the hash.
	before := rs.Hash
	writeCUE(t, dir, "constants.cue", `package balance

constant: threshold: {lit: 60}
`)
	rs, err = LoadDir(dir)
	require.NoError(t, err)
	assert.NotEqual(t, before, rs.Hash)
}

func TestLoadDir_Errors(t *testing.T) {
	t.Run("no files", func(t *testing.T) {
		_, err := LoadDir(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no CUE files found")
	})

	t.Run("compile error", func(t *testing.T) {
		dir := t.TempDir()
		writeCUE(t, dir, "bad.cue", `package bad

rule: r: {message: "no expression"}
`)
		_, err := LoadDir(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rule r has no expression")
	})
}

func TestFindCUEFiles_Sorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.cue", "a.cue", "notes.txt"} {
		writeCUE(t, dir, name, "package x\n")
	}
	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.cue"), filepath.Join(dir, "b.cue")}, files)
}
