// Package agent runs the poll/execute/report cycle on a managed machine.
package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shebangremote/shebang-remote/internal/communicator"
	"github.com/shebangremote/shebang-remote/internal/executor"
)

type Agent struct {
	cfg     *Config
	comm    *communicator.Client
	log     *zap.SugaredLogger
	timeout time.Duration
}

func New(cfg *Config, log *zap.SugaredLogger) *Agent {
	return &Agent{
		cfg:     cfg,
		comm:    communicator.New(cfg.ServerURL, cfg.AgentID),
		log:     log,
		timeout: executor.DefaultTimeout,
	}
}

// Run is the unbounded, single-threaded loop: fetch pending commands, execute
// them sequentially, report each result, sleep for the poll interval. Network
// failures are logged and the cycle continues; only ctx cancellation stops
// the loop.
func (a *Agent) Run(ctx context.Context) {
	a.log.Infow("agent started",
		"agent_id", a.cfg.AgentID,
		"server", a.cfg.ServerURL,
		"poll_interval_s", a.cfg.PollInterval,
	)

	interval := time.Duration(a.cfg.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Poll immediately on startup.
	a.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("agent stopping")
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Agent) tick(ctx context.Context) {
	commands, err := a.comm.PendingCommands()
	if err != nil {
		// Transient failure means no commands this cycle, never a crash.
		a.log.Warnw("pending command fetch failed", "error", err)
		return
	}
	if len(commands) == 0 {
		return
	}

	a.log.Infow("commands received", "count", len(commands))
	for _, cmd := range commands {
		if cmd.Script.Content == "" {
			a.log.Warnw("skipping command with empty script", "command_id", cmd.ID)
			continue
		}
		a.log.Infow("executing command", "command_id", cmd.ID, "script", cmd.Script.Name)
		output := executor.Run(ctx, cmd.Script.Content, a.timeout)

		if err := a.comm.ReportResult(cmd.ID, output); err != nil {
			a.log.Warnw("result report failed", "command_id", cmd.ID, "error", err)
			continue
		}
		a.log.Infow("result reported", "command_id", cmd.ID, "returncode", output.ReturnCode)
	}
}
