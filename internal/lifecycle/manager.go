// Package lifecycle owns the Machine/Script/Command entities and their status
// transitions. Scripts are gated through the safety validator before anything
// reaches storage; commands move pending -> completed exactly once.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shebangremote/shebang-remote/internal/models"
	"github.com/shebangremote/shebang-remote/internal/safety"
	"github.com/shebangremote/shebang-remote/internal/storage"
)

// LivenessWindow is the fixed recency threshold for a machine to count as
// active.
const LivenessWindow = 5 * time.Minute

var (
	ErrScriptExists     = errors.New("script name already exists")
	ErrAlreadyCompleted = errors.New("command already completed")
	ErrEmptyMachineID   = errors.New("machine id required")
	ErrEmptyScriptName  = errors.New("script name required")
)

// Manager orchestrates entity rules and state transitions on top of a Store.
type Manager struct {
	store storage.Store
	// operations mutex per entity key, serializes read-then-write upserts
	opMu sync.Map
}

// New creates a new manager instance.
func New(store storage.Store) *Manager {
	return &Manager{store: store}
}

// RegisterMachine creates the machine on first registration, otherwise
// updates name and last_seen. Last write wins; serialized per machine id.
func (m *Manager) RegisterMachine(ctx context.Context, id, name string) (*models.Machine, error) {
	if id == "" {
		return nil, ErrEmptyMachineID
	}
	defer m.lock("machine:" + id)()

	now := time.Now().UTC()
	mach, err := m.store.GetMachine(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		mach = &models.Machine{ID: id, Name: name, LastSeen: now, CreatedAt: now, UpdatedAt: now}
	case err != nil:
		return nil, fmt.Errorf("load machine: %w", err)
	default:
		mach.Name = name
		mach.LastSeen = now
		mach.UpdatedAt = now
	}
	if err := m.store.SaveMachine(ctx, mach); err != nil {
		return nil, fmt.Errorf("save machine: %w", err)
	}
	return mach, nil
}

// ListActiveMachines returns machines seen within the liveness window.
func (m *Manager) ListActiveMachines(ctx context.Context) ([]*models.Machine, error) {
	machines, err := m.store.ListMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	cutoff := time.Now().UTC().Add(-LivenessWindow)
	active := []*models.Machine{}
	for _, mach := range machines {
		if !mach.LastSeen.Before(cutoff) {
			active = append(active, mach)
		}
	}
	return active, nil
}

// CreateScript normalizes the name, validates the content and stores the
// script. Scripts are append-only by name; duplicates are a conflict.
func (m *Manager) CreateScript(ctx context.Context, name, content string) (*models.Script, error) {
	key := safety.NormalizeName(name)
	if key == "" {
		return nil, ErrEmptyScriptName
	}
	if err := safety.Validate(content); err != nil {
		return nil, err
	}
	defer m.lock("script:" + key)()

	_, err := m.store.GetScript(ctx, key)
	switch {
	case err == nil:
		return nil, ErrScriptExists
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load script: %w", err)
	}

	script := &models.Script{Name: key, Content: content, CreatedAt: time.Now().UTC()}
	if err := m.store.SaveScript(ctx, script); err != nil {
		return nil, fmt.Errorf("save script: %w", err)
	}
	return script, nil
}

// GetScript returns a stored script by normalized name.
func (m *Manager) GetScript(ctx context.Context, name string) (*models.Script, error) {
	return m.store.GetScript(ctx, safety.NormalizeName(name))
}

// ListCommandStatuses returns the fixed status reference rows.
func (m *Manager) ListCommandStatuses(ctx context.Context) ([]models.CommandStatus, error) {
	return m.store.ListCommandStatuses(ctx)
}

// ScheduleCommand creates a pending command referencing an existing machine
// and script.
func (m *Manager) ScheduleCommand(ctx context.Context, machineID, scriptName string) (*models.Command, error) {
	if _, err := m.store.GetMachine(ctx, machineID); err != nil {
		return nil, err
	}
	key := safety.NormalizeName(scriptName)
	if _, err := m.store.GetScript(ctx, key); err != nil {
		return nil, err
	}

	id, err := m.store.NextCommandID(ctx)
	if err != nil {
		return nil, fmt.Errorf("assign command id: %w", err)
	}
	now := time.Now().UTC()
	cmd := &models.Command{
		ID:         id,
		MachineID:  machineID,
		ScriptName: key,
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.SaveCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("save command: %w", err)
	}
	return cmd, nil
}

// ListPendingCommands returns the pending commands for a machine. A poll is a
// liveness signal, so the machine's last_seen is touched on every call.
func (m *Manager) ListPendingCommands(ctx context.Context, machineID string) ([]*models.Command, error) {
	defer m.lock("machine:" + machineID)()

	mach, err := m.store.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	mach.LastSeen = now
	mach.UpdatedAt = now
	if err := m.store.SaveMachine(ctx, mach); err != nil {
		return nil, fmt.Errorf("touch machine: %w", err)
	}

	commands, err := m.store.ListCommandsByMachine(ctx, machineID)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	pending := []*models.Command{}
	for _, cmd := range commands {
		if cmd.Status == models.StatusPending {
			pending = append(pending, cmd)
		}
	}
	return pending, nil
}

// CompleteCommand records the agent-reported output and moves the command to
// completed. Completion happens exactly once; a second report is a conflict
// and leaves the stored output untouched.
func (m *Manager) CompleteCommand(ctx context.Context, id uint64, output *models.CommandOutput) (*models.Command, error) {
	defer m.lock(fmt.Sprintf("command:%d", id))()

	cmd, err := m.store.GetCommand(ctx, id)
	if err != nil {
		return nil, err
	}
	if cmd.Status == models.StatusCompleted {
		return nil, ErrAlreadyCompleted
	}
	cmd.Status = models.StatusCompleted
	cmd.Output = output
	cmd.UpdatedAt = time.Now().UTC()
	if err := m.store.SaveCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("save command: %w", err)
	}
	return cmd, nil
}

// lock ensures only one op per entity key at a time. Returns the unlock func.
func (m *Manager) lock(key string) func() {
	v, _ := m.opMu.LoadOrStore(key, &sync.Mutex{})
	mtx := v.(*sync.Mutex)
	mtx.Lock()
	return mtx.Unlock
}
