package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/kodi_remote/internal/adapters/config"
	"github.com/mikey-austin/kodi_remote/internal/adapters/mqtt"
	"github.com/mikey-austin/kodi_remote/internal/adapters/output"
	"github.com/mikey-austin/kodi_remote/pkg/bus"
)

type bridgeFlags struct {
	broker    string
	topicBase string
	node      string
}

func bridgeCommand() *cobra.Command {
	var flags bridgeFlags

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Talk to Kodi through a krd bridge over MQTT",
	}
	cmd.PersistentFlags().StringVarP(&flags.broker, "broker", "b", "", "MQTT broker URL")
	cmd.PersistentFlags().StringVar(&flags.topicBase, "topic-base", "", "MQTT topic base")
	cmd.PersistentFlags().StringVarP(&flags.node, "node", "n", "", "bridge node id")

	cmd.AddCommand(bridgeListCommand(&flags))
	cmd.AddCommand(bridgeStatusCommand(&flags))
	cmd.AddCommand(bridgeWatchCommand(&flags))
	cmd.AddCommand(bridgeSendCommand(&flags))
	return cmd
}

func (f bridgeFlags) resolve(cfg config.BridgeConfig) config.BridgeConfig {
	if f.broker != "" {
		cfg.Broker = f.broker
	}
	if f.topicBase != "" {
		cfg.TopicBase = f.topicBase
	}
	if f.node != "" {
		cfg.Node = f.node
	}
	if cfg.TopicBase == "" {
		cfg.TopicBase = bus.BaseTopic
	}
	return cfg
}

func (a *app) bridgeClient(f bridgeFlags, needNode bool) (*mqtt.Client, config.BridgeConfig, error) {
	cfg := f.resolve(a.cfg.Bridge)
	if cfg.Broker == "" {
		return nil, cfg, WrapError(ExitUsage, "broker is required (set --broker or [bridge] broker)", nil)
	}
	if needNode && cfg.Node == "" {
		return nil, cfg, WrapError(ExitUsage, "node is required (set --node or [bridge] node)", nil)
	}
	client, err := mqtt.NewClient(mqtt.Options{
		BrokerURL: cfg.Broker,
		Username:  cfg.User,
		Password:  cfg.Pass,
		TLSCA:     cfg.TLSCA,
		TLSCert:   cfg.TLSCert,
		TLSKey:    cfg.TLSKey,
		TopicBase: cfg.TopicBase,
		Timeout:   a.timeout,
	})
	if err != nil {
		return nil, cfg, WrapError(ExitUnavailable, "connect broker", err)
	}
	return client, cfg, nil
}

func bridgeListCommand(flags *bridgeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List bridge nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			client, _, err := app.bridgeClient(*flags, false)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()
			nodes, err := client.ListPresence(ctx)
			if err != nil {
				return WrapError(ExitRuntime, "list nodes", err)
			}
			return app.printer.Print(output.NodesOutput{Nodes: nodes})
		},
	}
}

func bridgeStatusCommand(flags *bridgeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the retained state of a bridge node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			client, cfg, err := app.bridgeClient(*flags, true)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()
			state, err := client.GetState(ctx, cfg.Node)
			if err != nil {
				return WrapError(ExitUnavailable, "get state", err)
			}
			return app.printer.Print(state)
		},
	}
}

func bridgeWatchCommand(flags *bridgeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print bridge state updates until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			client, cfg, err := app.bridgeClient(*flags, true)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			states, errs := client.WatchState(ctx, cfg.Node)
			for {
				select {
				case state, ok := <-states:
					if !ok {
						return nil
					}
					if err := app.printer.Print(state); err != nil {
						return err
					}
				case err, ok := <-errs:
					if ok && err != nil {
						return WrapError(ExitUnavailable, "watch", err)
					}
					if !ok {
						return nil
					}
				}
			}
		},
	}
}

func bridgeSendCommand(flags *bridgeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <type> [json-body]",
		Short: "Send a command to a bridge node",
		Long:  "Send a command to a bridge node. Each node lists the command types it accepts in its presence (kr bridge ls --json).",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !bus.KnownCommand(args[0]) {
				return WrapError(ExitUsage, "unknown command type "+args[0], nil)
			}
			var body any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &body); err != nil {
					return WrapError(ExitUsage, "invalid json body", err)
				}
			}
			envelope, err := bus.NewCommand(args[0], body)
			if err != nil {
				return WrapError(ExitUsage, "build command", err)
			}

			app := fromContext(cmd)
			client, cfg, err := app.bridgeClient(*flags, true)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()
			reply, err := client.PublishCommand(ctx, cfg.Node, envelope)
			if err != nil {
				return WrapError(ExitUnavailable, "send command", err)
			}
			if !reply.OK {
				if reply.Err == nil {
					return WrapError(ExitRuntime, "command failed", nil)
				}
				return errorForReply(reply.Err)
			}
			if envelope.Type == bus.CmdStateGet && len(reply.Body) > 0 {
				var state bus.BridgeState
				if err := json.Unmarshal(reply.Body, &state); err != nil {
					return WrapError(ExitRuntime, "decode state", err)
				}
				return app.printer.Print(state)
			}
			return app.printer.Print(output.Message("ok"))
		},
	}
}

