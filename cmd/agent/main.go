package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/room4-2/roomagent/config"
	"github.com/room4-2/roomagent/livekit"
	"github.com/room4-2/roomagent/plugins"
	"github.com/room4-2/roomagent/probe"
	"github.com/room4-2/roomagent/relay"
	"github.com/room4-2/roomagent/server"
	"github.com/room4-2/roomagent/session"
	"github.com/room4-2/roomagent/voice"
)

var rootCmd = &cobra.Command{
	Use:          "agent",
	Short:        "LiveKit voice agent worker",
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the worker: HTTP surface, webhook dispatch and optional auto-join",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runWorker(cfg)
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Run a single job for one room in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		room, _ := cmd.Flags().GetString("room")
		if room == "" {
			room = cfg.Agent.RoomName
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = newRelay(cfg).Run(ctx, relay.Job{ID: uuid.New().String(), Room: room})
		if errors.Is(err, context.Canceled) {
			log.Println("Interrupted")
			return nil
		}
		return err
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the LiveKit server is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		url, _ := cmd.Flags().GetString("url")

		opts := probe.ResolveOptions(url, os.Getenv, cmd.OutOrStdout())
		if !probe.TestConnection(cmd.Context(), opts) {
			fmt.Fprintln(cmd.OutOrStdout(), "\nPlease start the LiveKit server first.")
			return errors.New("livekit server unreachable")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "\nYou can now run the agent with:\n  agent start")
		return nil
	},
}

func init() {
	connectCmd.Flags().String("room", "", "room to join (defaults to LIVEKIT_ROOM_NAME)")
	probeCmd.Flags().String("url", "", "LiveKit URL (defaults to LIVEKIT_URL)")

	rootCmd.AddCommand(startCmd, connectCmd, probeCmd)
}

// newRelay wires the LiveKit transport and the plugin builder into a relay.
func newRelay(cfg *config.Config) *relay.Relay {
	connector := livekit.NewConnector(cfg.Agent, cfg.AgentName)

	connect := func(ctx context.Context, job relay.Job) (relay.Room, error) {
		room, err := connector.Connect(ctx, job.Room)
		if err != nil {
			return nil, err
		}
		room.JobID = job.ID
		return room, nil
	}
	build := func(ctx context.Context, agent config.AgentConfig) (voice.Components, error) {
		return plugins.Build(ctx, agent, plugins.DefaultFactories())
	}

	return relay.New(cfg.Agent, connect, build, relay.NewAgentSession)
}

func runWorker(cfg *config.Config) error {
	jobs, err := session.NewManager(cfg, newRelay(cfg))
	if err != nil {
		return fmt.Errorf("failed to create job manager: %w", err)
	}

	// Keep registry entries alive
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go jobs.StartRefreshRoutine(ctx)

	srv := server.NewServer(cfg, jobs, livekit.NewWebhookReceiver(cfg.Agent.APIKey, cfg.Agent.APISecret))

	if cfg.AutoJoin {
		if _, err := jobs.Dispatch(ctx, cfg.Agent.RoomName); err != nil {
			log.Printf("❌ Auto-join of %s failed: %v", cfg.Agent.RoomName, err)
		}
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("\nReceived shutdown signal...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	jobs.Wait()
	log.Println("Worker stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
