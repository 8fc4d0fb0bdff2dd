package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/halcyonchat/halcyon/internal/daemon"
)

func main() {
	// A .env next to the binary may carry HALCYON_KEY.
	_ = godotenv.Load()

	dataDir := flag.String("data-dir", "", "data directory (default ~/.halcyon)")
	configPath := flag.String("config", "", "config file (default <data-dir>/config.toml)")
	listenAddr := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	dir := *dataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		dir = filepath.Join(home, ".halcyon")
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			DataDir:    dir,
			ConfigPath: *configPath,
			ListenAddr: *listenAddr,
		}),
	)

	app.Run()
}
