package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shebangremote/shebang-remote/internal/models"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMachineRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetMachine(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	now := time.Now().UTC()
	m := &models.Machine{ID: "m1", Name: "web-01", LastSeen: now, CreatedAt: now, UpdatedAt: now}
	if err := store.SaveMachine(ctx, m); err != nil {
		t.Fatalf("save machine: %v", err)
	}

	got, err := store.GetMachine(ctx, "m1")
	if err != nil {
		t.Fatalf("get machine: %v", err)
	}
	if got.Name != "web-01" {
		t.Fatalf("expected web-01 got %s", got.Name)
	}

	machines, err := store.ListMachines(ctx)
	if err != nil {
		t.Fatalf("list machines: %v", err)
	}
	if len(machines) != 1 {
		t.Fatalf("expected 1 machine got %d", len(machines))
	}
}

func TestScriptRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetScript(ctx, "diag"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	sc := &models.Script{Name: "diag", Content: "uname -a", CreatedAt: time.Now().UTC()}
	if err := store.SaveScript(ctx, sc); err != nil {
		t.Fatalf("save script: %v", err)
	}
	got, err := store.GetScript(ctx, "diag")
	if err != nil {
		t.Fatalf("get script: %v", err)
	}
	if got.Content != "uname -a" {
		t.Fatalf("unexpected content %q", got.Content)
	}
}

func TestCommandIDsAndListing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.NextCommandID(ctx)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	id2, err := store.NextCommandID(ctx)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if id1 == 0 || id2 <= id1 {
		t.Fatalf("ids not monotonic: %d %d", id1, id2)
	}

	for i, machineID := range []string{"m1", "m2", "m1"} {
		c := &models.Command{
			ID:         uint64(i + 1),
			MachineID:  machineID,
			ScriptName: "diag",
			Status:     models.StatusPending,
		}
		if err := store.SaveCommand(ctx, c); err != nil {
			t.Fatalf("save command: %v", err)
		}
	}

	cmds, err := store.ListCommandsByMachine(ctx, "m1")
	if err != nil {
		t.Fatalf("list commands: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands for m1 got %d", len(cmds))
	}
	if cmds[0].ID != 1 || cmds[1].ID != 3 {
		t.Fatalf("commands out of creation order: %d %d", cmds[0].ID, cmds[1].ID)
	}

	if _, err := store.GetCommand(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusReferenceSeeded(t *testing.T) {
	store := newTestStore(t)

	statuses, err := store.ListCommandStatuses(context.Background())
	if err != nil {
		t.Fatalf("list statuses: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 status rows got %d", len(statuses))
	}
	seen := map[string]bool{}
	for _, st := range statuses {
		seen[st.TitleInternal] = true
	}
	if !seen[models.StatusPending] || !seen[models.StatusCompleted] {
		t.Fatalf("missing reference rows: %v", seen)
	}
}
