// ABOUTME: Entry point for the zap-gateway server
// ABOUTME: Exposes one WhatsApp-account session to HTTP and WebSocket consumers

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/zap-gateway/internal/config"
	"github.com/2389/zap-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the gateway config file.
// Priority: ZAP_CONFIG env var > XDG_CONFIG_HOME/zap-gateway/gateway.yaml > ~/.config/zap-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ZAP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "zap-gateway", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: zap-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway server")
		fmt.Println("  health    Check gateway health")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when one exists, falling back to a
// pure-environment configuration otherwise.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config.FromEnv()
		}
		return nil, fmt.Errorf("checking config file: %w", err)
	}
	return config.Load(path)
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	logger.Info("starting zap-gateway", "version", version, "port", cfg.Server.Port)
	return gw.Run(ctx)
}

// setupLogger builds the process logger from logging config.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// runHealth checks the gateway health endpoint on the configured port.
func runHealth(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		color.Red("gateway unreachable: %v", err)
		return errors.New("health check failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		color.Red("gateway unhealthy: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return errors.New("health check failed")
	}

	color.Green("gateway healthy: %s", strings.TrimSpace(string(body)))
	return nil
}
