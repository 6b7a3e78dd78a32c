package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSourcePicksLanguage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "button.tsx")
	require.NoError(t, os.WriteFile(path, []byte("export const Button = () => <b/>;\n"), 0o644))

	t.Cleanup(func() { langFlag = "" })

	src, lang, err := readSource(path)
	require.NoError(t, err)
	assert.Equal(t, "tsx", lang)
	assert.Contains(t, src, "Button")

	langFlag = "ts"
	_, lang, err = readSource(path)
	require.NoError(t, err)
	assert.Equal(t, "typescript", lang)

	_, _, err = readSource(filepath.Join(dir, "missing.js"))
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
