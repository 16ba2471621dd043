package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mudlink/mudlink/internal/identity"
	"github.com/mudlink/mudlink/internal/server"
)

var (
	serverName         string
	serverAddr         string
	serverNoDiscovery  bool
	shutdownDrainLimit = 5 * time.Second
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a session server",
	Long: `Run a session server. The server answers LAN discovery probes,
accepts client sessions and broadcasts session events to every
connected client. Its identity is persisted per name, so restarting
with the same name keeps the same server id.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&serverName, "name", "", "Display name announced over discovery")
	serverCmd.Flags().StringVar(&serverAddr, "addr", "0.0.0.0:0", "Gateway listen address")
	serverCmd.Flags().BoolVar(&serverNoDiscovery, "no-discovery", false, "Do not answer discovery probes")
}

func runServer(cmd *cobra.Command, args []string) error {
	dir, err := identity.DefaultDir()
	if err != nil {
		return fmt.Errorf("failed to resolve identity dir: %w", err)
	}
	store := identity.NewStore(dir)

	// A server that cannot persist its identity must not start;
	// clients key their own identity on ours.
	id, err := store.LoadOrCreateServer(serverName)
	if err != nil {
		return fmt.Errorf("failed to load server identity: %w", err)
	}

	srv := server.New(id, server.Config{
		Addr:             serverAddr,
		Name:             serverName,
		DisableDiscovery: serverNoDiscovery,
	})
	if err := srv.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("[INFO] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainLimit)
	defer cancel()
	return srv.Stop(ctx)
}
