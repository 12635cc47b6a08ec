// Package main is the entry point for the station observation ingestor.
//
// Usage:
//
//	ingestor run                        # Poll stations and publish observations
//	ingestor checkpoint list            # Show stored station cursors
//	ingestor checkpoint set KSEA <ts>   # Move a station cursor
//	ingestor tail                       # Watch published batches on RabbitMQ
//	ingestor stations -o roster.json    # Export the validated station roster
//	ingestor version                    # Show version info
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "ingestor",
	Short: "Forward weather.gov station observations to a message bus",
	Long: `ingestor polls every observation station published by weather.gov,
forwards new observations to RabbitMQ or MQTT in size-bounded batches and
keeps a per-station cursor so it resumes where it left off.

Configuration comes from environment variables (a .env file is picked up
automatically) and an optional YAML file given with --config or
INGESTOR_CONFIG_FILE. Environment variables win over the file.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnv()
		if configFile != "" {
			os.Setenv("INGESTOR_CONFIG_FILE", configFile)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ingestor %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(versionCmd, runCmd, checkpointCmd, tailCmd, stationsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnv loads the first .env file found, working both in containers and
// when started from a bin/ subdirectory.
func loadEnv() {
	envPaths := []string{
		".env",
		"../../.env",
	}

	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		grandParentDir := filepath.Dir(parentDir)

		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(grandParentDir, ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			absPath, _ := filepath.Abs(envPath)
			fmt.Fprintf(os.Stderr, "Loaded environment from: %s\n", absPath)
			return
		}
	}

	fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables (OK for pods/containers)")
}
