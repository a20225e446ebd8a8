package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shebangremote/shebang-remote/internal/models"
	"github.com/shebangremote/shebang-remote/internal/safety"
	"github.com/shebangremote/shebang-remote/internal/storage"
)

func newManager(t *testing.T) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func TestRegisterMachineCreatesAndUpdates(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	mach, err := m.RegisterMachine(ctx, "m1", "web-01")
	require.NoError(t, err)
	assert.Equal(t, "m1", mach.ID)
	assert.Equal(t, "web-01", mach.Name)
	assert.False(t, mach.LastSeen.IsZero())

	firstSeen := mach.LastSeen
	mach, err = m.RegisterMachine(ctx, "m1", "web-01-renamed")
	require.NoError(t, err)
	assert.Equal(t, "web-01-renamed", mach.Name)
	assert.False(t, mach.LastSeen.Before(firstSeen))

	_, err = m.RegisterMachine(ctx, "", "nameless")
	assert.ErrorIs(t, err, ErrEmptyMachineID)
}

func TestListActiveMachinesWindow(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	now := time.Now().UTC()
	fresh := &models.Machine{ID: "fresh", Name: "a", LastSeen: now.Add(-4 * time.Minute)}
	stale := &models.Machine{ID: "stale", Name: "b", LastSeen: now.Add(-6 * time.Minute)}
	require.NoError(t, store.SaveMachine(ctx, fresh))
	require.NoError(t, store.SaveMachine(ctx, stale))

	active, err := m.ListActiveMachines(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].ID)
}

func TestCreateScript(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	script, err := m.CreateScript(ctx, "  My Diag ", "uname -a")
	require.NoError(t, err)
	assert.Equal(t, "mydiag", script.Name)
	assert.Equal(t, "uname -a", script.Content)

	// Duplicate name is a conflict, normalization collapses to the same key.
	_, err = m.CreateScript(ctx, "MY DIAG", "uptime")
	assert.ErrorIs(t, err, ErrScriptExists)

	// Rejected content stores nothing.
	_, err = m.CreateScript(ctx, "bad", "rm -rf /")
	var rej *safety.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, safety.ReasonCommandNotAllowed, rej.Reason)
	_, err = m.GetScript(ctx, "bad")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = m.CreateScript(ctx, "   ", "uname -a")
	assert.ErrorIs(t, err, ErrEmptyScriptName)
}

func TestScheduleCommand(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	_, err := m.RegisterMachine(ctx, "m1", "web-01")
	require.NoError(t, err)
	_, err = m.CreateScript(ctx, "diag", "uname -a")
	require.NoError(t, err)

	_, err = m.ScheduleCommand(ctx, "ghost", "diag")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = m.ScheduleCommand(ctx, "m1", "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	cmd, err := m.ScheduleCommand(ctx, "m1", "Diag")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, cmd.Status)
	assert.Equal(t, "m1", cmd.MachineID)
	assert.Equal(t, "diag", cmd.ScriptName)
	assert.NotZero(t, cmd.ID)
	assert.Nil(t, cmd.Output)
}

func TestListPendingCommandsTouchesLiveness(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	_, err := m.ListPendingCommands(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = m.RegisterMachine(ctx, "m1", "web-01")
	require.NoError(t, err)
	_, err = m.CreateScript(ctx, "diag", "uname -a")
	require.NoError(t, err)
	cmd, err := m.ScheduleCommand(ctx, "m1", "diag")
	require.NoError(t, err)

	// Age the machine past the liveness window, then poll.
	stale := &models.Machine{ID: "m1", Name: "web-01", LastSeen: time.Now().UTC().Add(-10 * time.Minute)}
	require.NoError(t, store.SaveMachine(ctx, stale))

	pending, err := m.ListPendingCommands(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cmd.ID, pending[0].ID)

	active, err := m.ListActiveMachines(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1, "poll should count as a liveness signal")

	// Completed commands drop out of the pending list.
	_, err = m.CompleteCommand(ctx, cmd.ID, &models.CommandOutput{Stdout: "ok"})
	require.NoError(t, err)
	pending, err = m.ListPendingCommands(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCompleteCommandExactlyOnce(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	_, err := m.CompleteCommand(ctx, 42, &models.CommandOutput{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = m.RegisterMachine(ctx, "m1", "web-01")
	require.NoError(t, err)
	_, err = m.CreateScript(ctx, "diag", "uname -a")
	require.NoError(t, err)
	cmd, err := m.ScheduleCommand(ctx, "m1", "diag")
	require.NoError(t, err)

	output := &models.CommandOutput{Stdout: "Linux web-01", Stderr: "", ReturnCode: 0}
	done, err := m.CompleteCommand(ctx, cmd.ID, output)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.Output)
	assert.Equal(t, "Linux web-01", done.Output.Stdout)

	// Second completion is rejected and the stored output stays intact.
	_, err = m.CompleteCommand(ctx, cmd.ID, &models.CommandOutput{Stdout: "overwrite"})
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}
