package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aggql/internal/hydrate"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"sql": "SELECT 1"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"sql": "SELECT 1"}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("INVALID_OPERATION", "Sorting on id field is not permitted", map[string]string{"request_id": "r1"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_OPERATION", resp.Error.Code)
	assert.Equal(t, "Sorting on id field is not permitted", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error("E005", "models directory not found", map[string]string{"dir": "x"}))
			assert.Contains(t, buf.String(), "Error [E005]: models directory not found")
			assert.Equal(t, tt.wantDetails, strings.Contains(buf.String(), "Details:"))
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.VerboseLog("Validating table: %s", "playerStats")
	assert.Empty(t, out.String())
	assert.Contains(t, diag.String(), "Validating table: playerStats")

	quiet := &OutputFormatter{Format: "text", Writer: out}
	quiet.VerboseLog("ignored")
	assert.Empty(t, out.String())
}

func TestOutputFormatter_WriteRecords(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.WriteRecords([]string{"overallRating", "highScore"}, []hydrate.Record{
		{ID: 0, Attributes: map[string]any{"overallRating": "Good", "highScore": int64(1234), "extra": true}},
		{ID: 1, Attributes: map[string]any{"overallRating": nil, "highScore": int64(2412)}},
	}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"id", "overallRating", "highScore", "extra"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"0", "Good", "1234", "true"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"1", "NULL", "2412", "NULL"}, strings.Fields(lines[2]))
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "missing")))
	assert.Equal(t, ExitFailure, GetExitCode(WrapExitError(ExitFailure, "query failed", errors.New("boom"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, "query failed: boom", WrapExitError(ExitFailure, "query failed", errors.New("boom")).Error())
}
