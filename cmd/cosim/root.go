package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var rootCmd = &cobra.Command{
	Use:   "cosim",
	Short: "Co-simulate firmware against a simulated bus device",
	Long: `cosim bridges a CPU emulator and a cycle-level device model. The
emulator forwards every MMIO access of the firmware over a unix socket, the
bridge replays it as bus transactions against the device, and the response
travels back the same way. A second socket exposes device pins to test
harnesses.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func init() {
	cobra.OnInitialize(loadDotEnv)
}

// loadDotEnv picks up a .env file from the working directory. Settings from
// the environment win over flag defaults but not over explicit flags.
func loadDotEnv() {
	godotenv.Load()
}

// envOr returns the environment value of key if it is set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
