// -- cmd/cmd_test.go --
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenarioFile drops a scenario document into a temp dir and returns its
// path.
func writeScenarioFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs a fresh root command with args and captures its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestCheckValidScenario(t *testing.T) {
	path := writeScenarioFile(t, "ok.json", `{
		"url": "https://example.com",
		"browserActions": [
			{"type": "click", "cssSelector": "#submit"},
			{"type": "wait", "wait": 1.5}
		]
	}`)

	out, err := execute(t, "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (2 actions)")
}

func TestCheckInvalidScenario(t *testing.T) {
	path := writeScenarioFile(t, "bad.json", `{
		"browserActions": [
			{"type": "click"}
		]
	}`)

	out, err := execute(t, "check", path)
	require.Error(t, err)
	assert.Contains(t, out, "invalid at [0]")
	assert.Contains(t, out, "cssSelector")
}

func TestCheckUnparseableFile(t *testing.T) {
	path := writeScenarioFile(t, "garbage.json", `not json at all`)

	_, err := execute(t, "check", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse scenario file")
}

func TestCheckMissingFile(t *testing.T) {
	_, err := execute(t, "check", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadDocuments(t *testing.T) {
	a := writeScenarioFile(t, "a.json", `{"browserActions": [{"type": "remove_iframes"}]}`)
	b := writeScenarioFile(t, "b.json", `{"url": "https://example.com", "browserActions": []}`)

	docs, err := loadDocuments([]string{a, b})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Len(t, docs[0].BrowserActions, 1)
	assert.Equal(t, "https://example.com", docs[1].URL)
}

func TestWriteResultsToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, writeResults(nil, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, "null", string(data))
}
