package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/smartclm/clm/pkg/config"
	"github.com/smartclm/clm/server"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write a default config file",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{skipSetup: "true"},
	RunE:        runInit,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the converter and parser services",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the metadata API over WebSocket",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var (
	initForce bool
	serveAddr string
)

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(initCmd, healthCmd, serveCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "clm.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}
	cmd.Println(color.GreenString("✓ Wrote %s", path))
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	health := docIndexer.Health(cmd.Context())
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		status, _ := health[name].(map[string]any)
		state, _ := status["status"].(string)
		if state == "error" {
			healthy = false
			cmd.Printf("  %s %s: %v\n", color.RedString("✗"), name, status["error"])
			continue
		}
		cmd.Printf("  %s %s: %s\n", color.GreenString("✓"), name, state)
	}
	if !healthy {
		return fmt.Errorf("some services are unavailable")
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := requireIndexer(); err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" && cfg != nil {
		addr = cfg.Server.Addr
	}
	srv, err := server.NewWSServer(server.Config{
		Addr:    addr,
		Indexer: docIndexer,
		Logger:  appLog,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}
