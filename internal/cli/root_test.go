package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/reminder"
	"remindd/internal/scheduling"
	"remindd/internal/store"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "remindd", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.True(t, cmd.SilenceUsage)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "mcp", "probe", "create", "edit", "delete", "toggle", "get", "list"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"config", "format", "owner", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func fileConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "remindd.yaml")
	body := "logging:\n  level: error\nstore:\n  driver: file\n  path: " +
		filepath.Join(dir, "reminders.json") +
		"\nscheduling:\n  mode: runtime\nsinks:\n  log: true\nreminders:\n  reconcile:\n    enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (envelope, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())

	var env envelope
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &env), out.String())
	}
	return env, err
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"list", "--format", "xml"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReminderCommandsRoundTrip(t *testing.T) {
	cfg := fileConfig(t)

	env, err := run(t, "create", "-c", cfg, "--format", "json", "--at", "+2h", "--type", "sleep")
	require.NoError(t, err)
	require.Equal(t, "ok", env.Status)
	var created reminder.Result
	require.NoError(t, json.Unmarshal(env.Data, &created))
	id := created.Reminder.ID
	require.NotEmpty(t, id)
	assert.Equal(t, "local", created.Reminder.OwnerID)
	assert.Equal(t, "Sleep time", created.Reminder.NotificationTitle)
	require.NotNil(t, created.Schedule)
	assert.Equal(t, scheduling.OutcomeUnavailable, created.Schedule.Outcome, "one-shot runtime mode stores unarmed")

	env, err = run(t, "edit", id, "-c", cfg, "--format", "json", "--title", "Nap")
	require.NoError(t, err)
	var edited reminder.Result
	require.NoError(t, json.Unmarshal(env.Data, &edited))
	assert.Equal(t, "Nap", edited.Reminder.NotificationTitle)
	assert.Equal(t, created.Reminder.TriggerAt.UTC(), edited.Reminder.TriggerAt.UTC())

	env, err = run(t, "list", "-c", cfg, "--format", "json")
	require.NoError(t, err)
	var list []store.Reminder
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	env, err = run(t, "list", "-c", cfg, "--format", "json", "--owner", "someone-else")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(env.Data))

	env, err = run(t, "toggle", id, "off", "-c", cfg, "--format", "json")
	require.NoError(t, err)
	var toggled reminder.Result
	require.NoError(t, json.Unmarshal(env.Data, &toggled))
	assert.False(t, toggled.Reminder.Enabled)

	_, err = run(t, "delete", id, "-c", cfg, "--format", "json")
	require.NoError(t, err)

	env, err = run(t, "get", id, "-c", cfg, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, env.Error)
	assert.Equal(t, "E_NOT_FOUND", env.Error.Code)
}

func TestToggleRejectsUnknownState(t *testing.T) {
	_, err := run(t, "toggle", "abc", "maybe", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCreateRejectsBadTrigger(t *testing.T) {
	_, err := run(t, "create", "--format", "json", "--at", "whenever")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestProbeReportsMode(t *testing.T) {
	env, err := run(t, "probe", "-c", fileConfig(t), "--format", "json")
	require.NoError(t, err)
	var res struct {
		Mode string `json:"mode"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "runtime", res.Mode)
}
