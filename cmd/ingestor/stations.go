package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/septivank/station-observation-ingestor/internal/config"
	"github.com/septivank/station-observation-ingestor/internal/directory"
	"github.com/septivank/station-observation-ingestor/internal/noaa"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	stationsOutput   string
	stationsAttempts int
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "Export the validated weather.gov station roster as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var dir *directory.Directory

		return runOneShot(cmd.Context(), func(ctx context.Context) error {
			if err := dir.Refresh(ctx); err != nil {
				if errors.Is(err, directory.ErrThrottled) {
					return fmt.Errorf("weather.gov is throttling requests, try again later: %w", err)
				}
				return err
			}

			stations := dir.Stations()
			if len(stations) == 0 {
				return fmt.Errorf("no stations loaded")
			}

			out := cmd.OutOrStdout()
			if stationsOutput != "" && stationsOutput != "-" {
				f, err := os.Create(stationsOutput)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", stationsOutput, err)
				}
				defer f.Close()
				out = f
			}

			if err := writeRoster(out, stations); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d stations\n", len(stations))
			return nil
		},
			fx.Provide(ProvideConfig, newLogger, ProvideNoaaClient, ProvideValidator, ProvideDirectory),
			fx.Decorate(func(cfg *config.Config) *config.Config {
				cfg.Directory.Attempts = stationsAttempts
				return cfg
			}),
			fx.Populate(&dir),
		)
	},
}

func init() {
	stationsCmd.Flags().StringVarP(&stationsOutput, "output", "o", "", "file to write (defaults to stdout)")
	stationsCmd.Flags().IntVar(&stationsAttempts, "attempts", 3, "roster request attempts, -1 for unlimited")
}

func writeRoster(w io.Writer, stations []noaa.Station) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stations); err != nil {
		return fmt.Errorf("failed to encode roster: %w", err)
	}
	return nil
}
