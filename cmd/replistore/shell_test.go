package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"replistore/pkg/coordinator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func runScript(t *testing.T, script string) (string, *coordinator.Coordinator) {
	cluster, err := coordinator.NewCluster(4, 2)
	require.NoError(t, err)
	t.Cleanup(func() { cluster.Close() })

	logger := zaptest.NewLogger(t)
	coord := coordinator.New(cluster, logger)

	var out bytes.Buffer
	sh := newShell(coord, strings.NewReader(script), &out, logger)
	require.NoError(t, sh.Run(context.Background()))
	return out.String(), coord
}

func TestShellFailoverSession(t *testing.T) {
	out, _ := runScript(t, strings.Join([]string{
		"upload a.txt hi",
		"fail 1",
		"download a.txt",
		"fail 2",
		"download a.txt",
		"exit",
	}, "\n"))

	assert.Contains(t, out, "Uploaded a.txt")
	assert.Contains(t, out, "Node_1, Node_2")
	assert.Contains(t, out, "Node_1 is now down")
	assert.Contains(t, out, "from Node_2: hi")
	assert.Contains(t, out, "File unavailable")
	assert.Contains(t, out, "Exiting...")
}

func TestShellMenuNumbersAndPrompts(t *testing.T) {
	out, coord := runScript(t, strings.Join([]string{
		"1",
		"notes.txt",
		"some content here",
		"3",
		"2",
		"5",
		"6",
		"7",
	}, "\n"))

	assert.Contains(t, out, "Enter filename:")
	assert.Contains(t, out, "Enter file content:")
	assert.Contains(t, out, "Enter node number:")
	assert.Contains(t, out, "Node_2 is now down")
	assert.Contains(t, out, "Re-replicated notes.txt from Node_1 to Node_3")
	assert.Contains(t, out, "[Empty]")

	dl, err := coord.Download(context.Background(), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "some content here", string(dl.Data))
}

func TestShellNodeErrors(t *testing.T) {
	out, _ := runScript(t, strings.Join([]string{
		"fail 10",
		"recover 1",
		"fail one",
		"bogus",
	}, "\n"))

	assert.Contains(t, out, "Invalid node number: node 10")
	assert.Contains(t, out, "No change: Node_1")
	assert.Contains(t, out, `Invalid node number: "one"`)
	assert.Contains(t, out, `Unknown command "bogus"`)
}

func TestShellRepairUnrecoverable(t *testing.T) {
	out, _ := runScript(t, strings.Join([]string{
		"upload a.txt hi",
		"fail 1",
		"fail 2",
		"repair",
		"health",
	}, "\n"))

	assert.Contains(t, out, "Unrecoverable: a.txt")
	assert.Contains(t, out, "UNHEALTHY")
}

func TestShellEndsOnEOF(t *testing.T) {
	out, _ := runScript(t, "list\n")
	assert.Contains(t, out, "Node_4")
	assert.NotContains(t, out, "Exiting...")
}
