package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shebangremote/shebang-remote/internal/agent"
	"github.com/shebangremote/shebang-remote/internal/communicator"
)

var (
	configPath string
	idPath     string
)

func main() {
	root := &cobra.Command{
		Use:           "shebang-agent",
		Short:         "Shebang Remote agent: registers this machine and runs scheduled scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", agent.DefaultConfigPath, "agent config file")
	root.PersistentFlags().StringVar(&idPath, "id-file", agent.DefaultIDPath, "persisted agent identity file")

	root.AddCommand(registerCmd(), runCmd(), serviceCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func registerCmd() *cobra.Command {
	var serverURL string
	var name string
	var pollInterval int

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this machine with the server and persist the agent config",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := agent.LoadOrCreateID(idPath)
			if err != nil {
				return err
			}
			if name == "" {
				name = agent.MachineName()
			}

			machine, err := communicator.Register(serverURL, id, name)
			if err != nil {
				// Nothing is persisted on a failed registration.
				return err
			}

			cfg := &agent.Config{
				ServerURL:    serverURL,
				AgentID:      machine.ID,
				AgentName:    machine.Name,
				PollInterval: pollInterval,
			}
			if err := agent.SaveConfig(configPath, cfg); err != nil {
				return err
			}
			fmt.Printf("registered as %s (%s), config written to %s\n", machine.Name, machine.ID, configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "base URL of the server")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to hostname)")
	cmd.Flags().IntVar(&pollInterval, "poll-interval", agent.DefaultPollInterval, "poll interval in seconds")
	cmd.MarkFlagRequired("server")
	return cmd
}

// program adapts the agent loop to the service manager lifecycle.
type program struct {
	agent  *agent.Agent
	cancel context.CancelFunc
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.agent.Run(ctx)
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the poll/execute/report loop (requires a prior register)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agent.LoadConfig(configPath)
			if err != nil {
				return err
			}

			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			prg := &program{agent: agent.New(cfg, logger.Sugar())}
			svc, err := service.New(prg, svcConfig())
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service [install|uninstall|start|stop]",
		Short: "Manage the agent system service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := service.New(&program{}, svcConfig())
			if err != nil {
				return err
			}
			if err := service.Control(svc, args[0]); err != nil {
				return err
			}
			fmt.Printf("service %s: ok\n", args[0])
			return nil
		},
	}
	return cmd
}

func svcConfig() *service.Config {
	return &service.Config{
		Name:        "shebang-remote-agent",
		DisplayName: "Shebang Remote Agent",
		Description: "Runs approved scripts scheduled for this machine",
		Arguments:   []string{"run", "--config", configPath},
	}
}
