package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidate(t *testing.T, dag string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dag.json")
	require.NoError(t, os.WriteFile(path, []byte(dag), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate", path})
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCmd(t *testing.T) {
	out, err := runValidate(t, `{
		"nodes": [
			{"key": "start", "type": "manual"},
			{"key": "fetch", "type": "tool_http"},
			{"key": "done", "type": "output"}
		],
		"edges": [{"from": "start", "to": "fetch"}, {"from": "fetch", "to": "done"}]
	}`)
	require.NoError(t, err)
	assert.Equal(t, "valid\n1. start\n2. fetch\n3. done\n", out)
}

func TestValidateCmd_Invalid(t *testing.T) {
	out, err := runValidate(t, `{
		"nodes": [
			{"key": "start", "type": "manual"},
			{"key": "a", "type": "transform"},
			{"key": "b", "type": "transform"}
		],
		"edges": [{"from": "start", "to": "a"}, {"from": "a", "to": "b"}, {"from": "b", "to": "a"}]
	}`)
	assert.ErrorIs(t, err, errInvalidDag)
	assert.Contains(t, out, "cycle")
}

func TestValidateCmd_MissingFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"validate", filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, cmd.Execute())
}
