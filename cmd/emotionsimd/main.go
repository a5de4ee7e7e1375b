// Command emotionsimd serves the EmotionSim control API: it opens the
// persistence store, recovers any runs left mid-flight by a previous
// process, wires an LLM oracle, and serves the HTTP control plane until
// terminated.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/emotionsim/engine/internal/api"
	"github.com/emotionsim/engine/internal/entropy"
	"github.com/emotionsim/engine/internal/llm"
	"github.com/emotionsim/engine/internal/persistence"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("EmotionSim control daemon starting")

	dbPath := envOr("EMOTIONSIM_DB_PATH", "data/emotionsim.db")
	apiPort := envIntOr("EMOTIONSIM_PORT", 8080)

	if err := os.MkdirAll("data", 0755); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}

	db, err := persistence.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", dbPath)

	// Restart recovery: any run left in "running" status when the
	// process last exited is demoted to "paused" — spec.md section 6.4.
	recovered, err := db.RecoverRunningRuns()
	if err != nil {
		slog.Error("failed to recover running runs", "error", err)
		os.Exit(1)
	}
	if recovered > 0 {
		slog.Info("recovered interrupted runs", "count", recovered, "new_status", "paused")
	}

	jitter := entropy.NewClient(os.Getenv("RANDOM_ORG_API_KEY"))
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")

	var oracle llm.Oracle
	if client := llm.NewClient(anthropicKey, jitter); client != nil {
		oracle = client
		slog.Info("LLM oracle enabled (Anthropic streaming client)")
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set — falling back to a no-op oracle; runs will progress but agents will not act")
		oracle = llm.NewFakeOracle()
	}

	adminKey := os.Getenv("EMOTIONSIM_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("EMOTIONSIM_ADMIN_KEY not set — admin POST endpoints (create_run, control_run) will be disabled")
	}

	apiServer := api.NewServer(db, oracle, apiPort, adminKey)
	apiServer.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("\nEmotionSim control API listening on :%d\n", apiPort)
	fmt.Printf("Create a run:  POST http://localhost:%d/api/v1/runs\n", apiPort)
	fmt.Println("Waiting for requests... (Ctrl+C to stop)")

	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
