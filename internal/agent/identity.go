package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// hardwareIDPaths are tried in order for a stable, hardware-derived machine
// identity. Absent or unreadable in minimal environments (containers,
// stripped-down images), hence the random fallback.
var hardwareIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
	"/sys/class/dmi/id/product_uuid",
}

// LoadOrCreateID returns the persisted agent identity, creating it on first
// use. The id is immutable once assigned.
func LoadOrCreateID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := hardwareID()
	if id == "" {
		id = uuid.NewString()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create id dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist agent id: %w", err)
	}
	return id, nil
}

func hardwareID() string {
	for _, p := range hardwareIDPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return ""
}

// MachineName returns the local hostname, or a random short name when the
// hostname query fails.
func MachineName() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "machine-" + uuid.NewString()[:8]
}
