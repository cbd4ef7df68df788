package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scripthost/internal/ir"
	"github.com/roach88/scripthost/internal/journal"
)

func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scripthost.db")
	ctx := context.Background()

	for _, run := range []string{"run-1", "run-2"} {
		j, err := journal.Open(path, journal.WithRunID(run))
		require.NoError(t, err)
		j.Record(ctx, ir.Record{Kind: ir.RecordScriptLoaded, ScriptID: "x.js#1", Detail: ir.IRObject{"file": ir.IRString("x.js")}})
		j.Record(ctx, ir.Record{Kind: ir.RecordScriptRun, ScriptID: "x.js#1"})
		j.Record(ctx, ir.Record{Kind: ir.RecordFanout, Category: ir.CategoryUserTarget, Fanout: "f1"})
		require.NoError(t, j.Close())
	}
	return path
}

func executeTrace(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTrace_TextAllRuns(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, "text", "--journal", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, `[1] tick=0 script_loaded script=x.js#1 {"file":"x.js"}`, lines[0])
	assert.Equal(t, "[6] tick=0 fanout category=user-target fanout=f1", lines[5])
}

func TestTrace_Filters(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, "text", "--journal", path, "--run", "run-2", "--kind", "script_run", "--kind", "fanout")
	require.NoError(t, err)
	assert.Equal(t, "[5] tick=0 script_run script=x.js#1\n[6] tick=0 fanout category=user-target fanout=f1\n", out)

	out, err = executeTrace(t, "text", "--journal", path, "--after", "4", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, "[5] tick=0 script_run script=x.js#1\n", out)

	out, err = executeTrace(t, "text", "--journal", path, "--script", "nobody")
	require.NoError(t, err)
	assert.Equal(t, "No records found.\n", out)
}

func TestTrace_Runs(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, "text", "--journal", path, "--runs")
	require.NoError(t, err)
	assert.Equal(t, "run-1\nrun-2\n", out)
}

func TestTrace_JSON(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, "json", "--journal", path, "--run", "run-1")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			RunID   string           `json:"run_id"`
			Records []map[string]any `json:"records"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.Data.RunID)
	require.Len(t, resp.Data.Records, 3)
	assert.Equal(t, "script_loaded", resp.Data.Records[0]["kind"])
	assert.Equal(t, map[string]any{"file": "x.js"}, resp.Data.Records[0]["detail"])
}

func TestTrace_MissingJournal(t *testing.T) {
	_, err := executeTrace(t, "text", "--journal", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "journal not found")
}

func TestTrace_NoJournalConfigured(t *testing.T) {
	t.Setenv("SCRIPTHOST_JOURNAL", "")
	_, err := executeTrace(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no journal")
}
