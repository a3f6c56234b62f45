// Command printshopd runs the distributed print shop order routing network.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wendulem/distributed-print-shops/internal/bootstrap"
	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
)

const version = "1.0.0"

var (
	configFile string
	seedDemo   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "printshopd",
		Short: "Distributed print shop order routing network",
		Long: `printshopd runs the print shop network: geographic node discovery,
cluster formation, tiered order routing, and an HTTP API for order
submission and network inspection.`,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the network coordinator and HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().BoolVar(&seedDemo, "seed-demo", false, "register a set of demo print shops at startup")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bs := bootstrap.New()
	if err := bs.Initialize(ctx, configFile); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	logger := bs.Logger
	logger.Info("print shop network starting",
		zap.String("version", version),
		zap.String("config_file", configFile))

	if err := bs.Start(ctx); err != nil {
		logger.Error("failed to start components", zap.Error(err))
		return err
	}

	if seedDemo {
		seedDemoNodes(ctx, bs)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("print shop network is running",
		zap.Int("http_port", bs.Config.Server.Port))

	<-sigChan
	logger.Info("shutdown signal received, stopping gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := bs.Stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		return err
	}

	logger.Info("print shop network stopped")
	return nil
}

// seedDemoNodes registers a small national network for local development.
func seedDemoNodes(ctx context.Context, bs *bootstrap.Bootstrap) {
	shops := []*models.PrintShop{
		{
			ID:            "sf-print-co",
			Name:          "SF Print Co",
			Location:      models.Location{Latitude: 37.7749, Longitude: -122.4194},
			Capabilities:  []models.Capability{models.CapabilityTShirt, models.CapabilityHoodie, models.CapabilitySticker},
			DailyCapacity: 200,
		},
		{
			ID:            "oakland-merch",
			Name:          "Oakland Merch Works",
			Location:      models.Location{Latitude: 37.8044, Longitude: -122.2712},
			Capabilities:  []models.Capability{models.CapabilityTShirt, models.CapabilityMug, models.CapabilityPoster},
			DailyCapacity: 150,
		},
		{
			ID:            "la-graphics",
			Name:          "LA Graphics Lab",
			Location:      models.Location{Latitude: 34.0522, Longitude: -118.2437},
			Capabilities:  []models.Capability{models.CapabilityTShirt, models.CapabilityPoster, models.CapabilityBusinessCard},
			DailyCapacity: 300,
		},
		{
			ID:            "nyc-press",
			Name:          "NYC Press House",
			Location:      models.Location{Latitude: 40.7128, Longitude: -74.0060},
			Capabilities:  []models.Capability{models.CapabilityTShirt, models.CapabilityHoodie, models.CapabilityMug, models.CapabilityPostcard},
			DailyCapacity: 250,
		},
	}

	for _, shop := range shops {
		n := node.New(shop,
			node.WithLogger(bs.Logger.Named("node")),
			node.WithBus(bs.Bus),
			node.WithHeartbeatInterval(bs.Config.Network.HeartbeatInterval()),
			node.WithMaxProductionWait(bs.Config.Network.MaxProductionWait()),
		)
		clu, err := bs.Discovery.AddNode(n)
		if err != nil {
			bs.Logger.Warn("failed to seed demo node",
				zap.String("node_id", shop.ID), zap.Error(err))
			continue
		}
		go n.Run(ctx)
		bs.Logger.Info("seeded demo node",
			zap.String("node_id", shop.ID),
			zap.String("cluster_id", clu.ID))
	}
}
