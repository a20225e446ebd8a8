package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/shebangremote/shebang-remote/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store is the persistence interface for machines, scripts and commands.
// Kept minimal, allows swapping implementations. Implementations must be
// safe for concurrent use.
type Store interface {
	SaveMachine(ctx context.Context, m *models.Machine) error
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	ListMachines(ctx context.Context) ([]*models.Machine, error)

	SaveScript(ctx context.Context, s *models.Script) error
	GetScript(ctx context.Context, name string) (*models.Script, error)

	NextCommandID(ctx context.Context) (uint64, error)
	SaveCommand(ctx context.Context, c *models.Command) error
	GetCommand(ctx context.Context, id uint64) (*models.Command, error)
	ListCommandsByMachine(ctx context.Context, machineID string) ([]*models.Command, error)

	ListCommandStatuses(ctx context.Context) ([]models.CommandStatus, error)

	Close() error
}

// BadgerStore implements Store with Badger DB.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

func NewBadgerStore(path string) (Store, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil                         // disable badger logs for test clarity
	opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	seq, err := db.GetSequence([]byte("seq:command"), 64)
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &BadgerStore{db: db, seq: seq}
	if err := s.seedCommandStatuses(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) Close() error {
	if s.seq != nil {
		s.seq.Release()
	}
	return s.db.Close()
}

func machineKey(id string) []byte {
	return []byte("machine:" + id)
}

func scriptKey(name string) []byte {
	return []byte("script:" + name)
}

// commandKey zero-pads the id so prefix iteration enumerates commands in
// creation order.
func commandKey(id uint64) []byte {
	return []byte(fmt.Sprintf("command:%020d", id))
}

func statusKey(internal string) []byte {
	return []byte("status:" + internal)
}

func (s *BadgerStore) set(key []byte, v any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) get(key []byte, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, out)
		})
	})
}

func (s *BadgerStore) iteratePrefix(prefix []byte, fn func(v []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// seedCommandStatuses writes the fixed status reference rows. Idempotent,
// runs on every open.
func (s *BadgerStore) seedCommandStatuses() error {
	for _, status := range models.CommandStatuses {
		if err := s.set(statusKey(status.TitleInternal), status); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) SaveMachine(ctx context.Context, m *models.Machine) error {
	return s.set(machineKey(m.ID), m)
}

func (s *BadgerStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	var out models.Machine
	if err := s.get(machineKey(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ListMachines(ctx context.Context) ([]*models.Machine, error) {
	machines := []*models.Machine{}
	err := s.iteratePrefix([]byte("machine:"), func(v []byte) error {
		var m models.Machine
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		machines = append(machines, &m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return machines, nil
}

func (s *BadgerStore) SaveScript(ctx context.Context, sc *models.Script) error {
	return s.set(scriptKey(sc.Name), sc)
}

func (s *BadgerStore) GetScript(ctx context.Context, name string) (*models.Script, error) {
	var out models.Script
	if err := s.get(scriptKey(name), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NextCommandID returns a fresh server-assigned command id, starting at 1.
func (s *BadgerStore) NextCommandID(ctx context.Context) (uint64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

func (s *BadgerStore) SaveCommand(ctx context.Context, c *models.Command) error {
	return s.set(commandKey(c.ID), c)
}

func (s *BadgerStore) GetCommand(ctx context.Context, id uint64) (*models.Command, error) {
	var out models.Command
	if err := s.get(commandKey(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ListCommandsByMachine(ctx context.Context, machineID string) ([]*models.Command, error) {
	commands := []*models.Command{}
	err := s.iteratePrefix([]byte("command:"), func(v []byte) error {
		var c models.Command
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		if c.MachineID == machineID {
			commands = append(commands, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commands, nil
}

func (s *BadgerStore) ListCommandStatuses(ctx context.Context) ([]models.CommandStatus, error) {
	statuses := []models.CommandStatus{}
	err := s.iteratePrefix([]byte("status:"), func(v []byte) error {
		var st models.CommandStatus
		if err := json.Unmarshal(v, &st); err != nil {
			return err
		}
		statuses = append(statuses, st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statuses, nil
}
