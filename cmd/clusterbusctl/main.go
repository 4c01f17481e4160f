// Command clusterbusctl is a small operator tool for a clusterbusd peer:
// it speaks the same wire protocol a node speaks to its peers, without
// running a node of its own.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"clusterbus/internal/addr"
	"clusterbus/internal/admin"
	"clusterbus/internal/codec"
	"clusterbus/internal/logging"
	"clusterbus/internal/wire"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "clusterbusctl",
		Short: "Operator tool for a clusterbus peer",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.AddCommand(probeCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(subsCmd())
	cmd.AddCommand(contextCmd())
	return cmd
}

func statusCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status <admin-addr|context>",
		Short: "Dial a node's admin endpoint and print its lifecycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			target := resolveAdminTarget(cfg, args[0])

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := admin.Query(ctx, target, admin.Request{Command: "status"})
			if err != nil {
				fmt.Println(errorMsg("%s: %v", target, err))
				return err
			}

			fmt.Printf("%s %s\n", label("self:"), resp.Status.Self)
			fmt.Printf("%s %s\n", label("state:"), successMsg(resp.Status.State))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "Admin dial/query timeout")
	return cmd
}

func subsCmd() *cobra.Command {
	var timeout time.Duration
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "subs <address> --admin-addr <admin-addr|context>",
		Short: "List the nodes registered for a subscription address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminAddr == "" {
				return fmt.Errorf("--admin-addr is required")
			}
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			target := resolveAdminTarget(cfg, adminAddr)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := admin.Query(ctx, target, admin.Request{Command: "subs", Address: args[0]})
			if err != nil {
				fmt.Println(errorMsg("%s: %v", target, err))
				return err
			}

			if len(resp.Subs.Nodes) == 0 {
				fmt.Println(label(fmt.Sprintf("no subscribers registered for %s", resp.Subs.Address)))
				return nil
			}
			for _, n := range resp.Subs.Nodes {
				fmt.Printf("%s %s\n", successMsg("%s", resp.Subs.Address), label(n))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "Admin dial/query timeout")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "Admin endpoint to query (host:port or a saved context name)")
	return cmd
}

func probeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe <host:port|context>",
		Short: "Send a PING to a peer's listener and report round-trip time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			target := resolveTarget(cfg, args[0])

			rtt, err := probe(target, timeout)
			if err != nil {
				fmt.Println(errorMsg("%s: %v", target, err))
				return err
			}
			fmt.Printf("%s %s\n", successMsg("%s is reachable", target), label(fmt.Sprintf("(%s)", rtt)))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "Dial and round-trip timeout")
	return cmd
}

// contextCmd manages named peer contexts, the way `ployz config context`
// manages named daemon contexts.
func contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Manage named peer contexts",
	}

	var adminAddress string
	setCmd := &cobra.Command{
		Use:   "set <name> <host:port>",
		Short: "Add or update a named peer context",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			cfg.Set(args[0], PeerContext{Address: args[1], AdminAddress: adminAddress})
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Println(successMsg("saved context %q -> %s", args[0], args[1]))
			return nil
		},
	}
	setCmd.Flags().StringVar(&adminAddress, "admin-address", "", "Admin listener address backing status/subs for this context")

	useCmd := &cobra.Command{
		Use:   "use <name>",
		Short: "Select the current peer context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Use(args[0]); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Println(successMsg("using context %q", args[0]))
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List known peer contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			for name, ctx := range cfg.Contexts {
				marker := " "
				if name == cfg.CurrentContext {
					marker = "*"
				}
				fmt.Printf("%s %s %s\n", marker, name, label(ctx.Address))
			}
			return nil
		},
	}

	cmd.AddCommand(setCmd, useCmd, listCmd)
	return cmd
}

// probe dials target, sends a PING frame, and waits for the single-byte
// PONG acknowledgement the peer server writes back (internal/transport's
// handleConn), returning the measured round-trip time.
func probe(target string, timeout time.Duration) (time.Duration, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", target)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}

	start := time.Now()
	ping := codec.Encode(codec.NewPing(addr.NodeAddress{Host: "clusterbusctl", Port: 0}))
	if err := wire.WriteFrame(conn, ping); err != nil {
		return 0, fmt.Errorf("write ping: %w", err)
	}

	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		return 0, fmt.Errorf("read pong: %w", err)
	}
	return time.Since(start), nil
}
