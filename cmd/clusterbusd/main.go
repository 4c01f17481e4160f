package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"clusterbus/internal/ha"
	"clusterbus/internal/logging"
	"clusterbus/internal/membership"
	"clusterbus/internal/membership/grpcmap"
	"clusterbus/internal/membership/inmemory"
	"clusterbus/internal/membership/snapshot"
	"clusterbus/internal/metrics"
	"clusterbus/pkg/eventbus"
)

func main() {
	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)
	defer func() {
		_ = mp.Shutdown(context.Background())
	}()

	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd(mp).Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd(mp *sdkmetric.MeterProvider) *cobra.Command {
	var bindHost string
	var bindPort int
	var publicHost string
	var publicPort int
	var membershipKind string
	var membershipAddr string
	var snapshotPath string
	var adminAddr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "clusterbusd",
		Short: "Clustered event bus peer daemon",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend, closeBackend, err := dialMembership(membershipKind, membershipAddr)
			if err != nil {
				return err
			}
			defer closeBackend()

			haMgr := haManagerFor(backend)

			var reg membership.Registry = backend
			if snapshotPath != "" {
				store, err := snapshot.Open(snapshotPath)
				if err != nil {
					return fmt.Errorf("open snapshot cache: %w", err)
				}
				defer store.Close()
				reg = snapshot.NewCachedRegistry(backend, store)
			}

			sink, err := metrics.NewSink(mp.Meter("clusterbusd"))
			if err != nil {
				return fmt.Errorf("build metrics sink: %w", err)
			}

			bus, err := eventbus.New(ctx, eventbus.Options{
				BindHost:      bindHost,
				BindPort:      bindPort,
				PublicHost:    publicHost,
				PublicPort:    publicPort,
				AdminBindAddr: adminAddr,
			}, eventbus.Deps{
				Membership:  reg,
				HA:          haMgr,
				MetricsSink: sink,
			})
			if err != nil {
				return fmt.Errorf("start node: %w", err)
			}

			slog.Info("clusterbusd listening", "address", bus.Self())
			if a := bus.AdminAddr(); a != nil {
				slog.Info("clusterbusd admin surface listening", "address", a)
			}
			<-ctx.Done()
			return bus.Close()
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&bindHost, "bind-host", "0.0.0.0", "Peer listener bind host")
	cmd.Flags().IntVar(&bindPort, "bind-port", 7400, "Peer listener bind port")
	cmd.Flags().StringVar(&publicHost, "public-host", "", "Advertised host (defaults to --bind-host)")
	cmd.Flags().IntVar(&publicPort, "public-port", 0, "Advertised port (defaults to the bound port)")
	cmd.Flags().StringVar(&membershipKind, "membership", "inmemory", "Membership backend: inmemory or grpc")
	cmd.Flags().StringVar(&membershipAddr, "membership-addr", "", "gRPC target for the membership coordinator (membership=grpc)")
	cmd.Flags().StringVar(&snapshotPath, "snapshot-db", "", "Path to a local SQLite cache of the last-known peer set (optional)")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:0", "Loopback bind address for the clusterbusctl status/subs admin listener (empty disables it)")
	return cmd
}

func dialMembership(kind, target string) (membership.Registry, func(), error) {
	switch kind {
	case "", "inmemory":
		return inmemory.New(), func() {}, nil
	case "grpc":
		if target == "" {
			return nil, nil, fmt.Errorf("--membership-addr is required for --membership=grpc")
		}
		reg, err := grpcmap.Dial(target)
		if err != nil {
			return nil, nil, fmt.Errorf("dial membership coordinator: %w", err)
		}
		return reg, func() { _ = reg.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown membership backend %q", kind)
	}
}

func haManagerFor(backend membership.Registry) ha.Manager {
	if gm, ok := backend.(*grpcmap.Registry); ok {
		return ha.NewGRPC(gm)
	}
	return ha.NewInMemory()
}
