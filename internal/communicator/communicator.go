// Package communicator is the agent's HTTP client for the server contract:
// registration, pending-command polls and result reports.
package communicator

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shebangremote/shebang-remote/internal/models"
)

type Client struct {
	client  *resty.Client
	agentID string
}

// PendingCommand is the slice of the server's command response the agent
// needs: the id to report against and the script content to run.
type PendingCommand struct {
	ID     uint64 `json:"id"`
	Script struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	} `json:"script"`
}

func New(serverURL, agentID string) *Client {
	client := resty.New().
		SetBaseURL(serverURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second).
		SetRetryCount(3)

	return &Client{client: client, agentID: agentID}
}

// Register submits identity and display name to the server. Used once, before
// a Client exists for the run loop.
func Register(serverURL, agentID, name string) (*models.Machine, error) {
	client := resty.New().SetBaseURL(serverURL).SetTimeout(30 * time.Second)

	var machine models.Machine
	resp, err := client.R().
		SetBody(map[string]string{"id": agentID, "name": name}).
		SetResult(&machine).
		Post("/register_machine")
	if err != nil {
		return nil, fmt.Errorf("register machine: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("server rejected registration with code %d: %s", resp.StatusCode(), resp.String())
	}
	return &machine, nil
}

// PendingCommands asks the server for this machine's pending commands.
func (c *Client) PendingCommands() ([]PendingCommand, error) {
	var commands []PendingCommand
	resp, err := c.client.R().
		SetResult(&commands).
		Get(fmt.Sprintf("/commands/%s", c.agentID))
	if err != nil {
		return nil, fmt.Errorf("poll commands: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("server responded %d", resp.StatusCode())
	}
	return commands, nil
}

// ReportResult sends the execution output for a command back to the server.
func (c *Client) ReportResult(commandID uint64, output models.CommandOutput) error {
	resp, err := c.client.R().
		SetBody(map[string]models.CommandOutput{"output": output}).
		Post(fmt.Sprintf("/commands/%d/result", commandID))
	if err != nil {
		return fmt.Errorf("report result: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("server rejected result with code %d", resp.StatusCode())
	}
	return nil
}
