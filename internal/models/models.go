package models

import "time"

// Machine is a registered remote host capable of running commands.
// Shared between the server, storage and API layers.
type Machine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Script is a named, validated unit of shell text eligible for scheduling.
// Content is immutable once stored.
type Script struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Internal status titles for Command.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// CommandStatus is one row of the fixed status reference table.
type CommandStatus struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	TitleInternal string `json:"title_internal"`
}

// CommandStatuses is the full reference set, seeded into storage at startup.
// Not user-mutable.
var CommandStatuses = []CommandStatus{
	{ID: 1, Title: "Pending", TitleInternal: StatusPending},
	{ID: 2, Title: "Completed", TitleInternal: StatusCompleted},
}

// StatusByInternal looks up a reference row by its internal title.
func StatusByInternal(internal string) (CommandStatus, bool) {
	for _, s := range CommandStatuses {
		if s.TitleInternal == internal {
			return s, true
		}
	}
	return CommandStatus{}, false
}

// CommandOutput is the structured result reported by an agent after running
// a script. The agent is the sole source of this content.
type CommandOutput struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returncode"`
}

// Command is one scheduled execution of a Script on a Machine. It is created
// pending and transitions to completed exactly once.
type Command struct {
	ID         uint64         `json:"id"`
	MachineID  string         `json:"machine_id"`
	ScriptName string         `json:"script_name"`
	Status     string         `json:"status"`
	Output     *CommandOutput `json:"output,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
