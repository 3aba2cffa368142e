package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/nainya/leostore/internal/metrics"
	"github.com/nainya/leostore/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC document store and the observability endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}

	cmd.Flags().IntVar(&a.cfg.GrpcPort, "port", a.cfg.GrpcPort, "gRPC port")
	cmd.Flags().IntVar(&a.cfg.MetricsPort, "metrics-port", a.cfg.MetricsPort, "metrics, health and pprof port")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	svc, kv, err := a.service(false, m)
	if err != nil {
		return err
	}
	defer kv.Close()

	a.log.LogServerStart(a.cfg.GrpcPort, a.cfg.DBPath)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.GrpcPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	grpcServer := server.NewGRPCServer(server.NewServer(svc, a.log), m)
	obs := server.NewObservabilityServer(a.cfg.MetricsPort, reg, a.log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.RunUptime(ctx)
		return nil
	})
	g.Go(obs.Start)
	g.Go(func() error {
		obs.SetReady(true)
		a.log.LogServerReady(a.cfg.GrpcPort)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.LogServerShutdown()
		obs.SetReady(false)
		grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return obs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
