package main

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/buildbuddy/internal/http"
	"github.com/fyrsmithlabs/buildbuddy/internal/monitor"
)

// newHealthCmd checks server health
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check buildbuddy server health",
		Long: `Check the health status of the buildbuddy HTTP server.

Examples:
  bbctl health
  bbctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			var health httpserver.HealthResponse
			if err := getJSON(ctx, "/health", &health); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", health.Status)
			fmt.Fprintf(out, "Server URL: %s\n", serverURL)
			if health.Version != "" {
				fmt.Fprintf(out, "Version: %s\n", health.Version)
			}
			names := make([]string, 0, len(health.Components))
			for name := range health.Components {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %-10s %s\n", name, health.Components[name])
			}
			return nil
		},
	}
}

// newTTSCmd synthesizes speech through the server
func newTTSCmd() *cobra.Command {
	var (
		output string
		voice  string
	)
	cmd := &cobra.Command{
		Use:   "tts <text>",
		Short: "Convert text to speech",
		Long: `Synthesize speech for text and write the MP3 audio to a file.

Examples:
  bbctl tts "Your build is ready" -o ready.mp3
  bbctl tts --voice 21m00Tcm4TlvDq8ikWAM "Hello" -o hello.mp3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			resp, err := postJSON(ctx, "/api/v1/tts", httpserver.TTSRequest{
				Text:  strings.Join(args, " "),
				Voice: voice,
			})
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			n, err := f.ReadFrom(resp.Body)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", n, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "speech.mp3", "output file")
	cmd.Flags().StringVar(&voice, "voice", "", "voice ID (server default when empty)")
	return cmd
}

// newCatalogCmd groups parts catalog commands
func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Query the parts catalog",
	}

	var k int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search parts by description",
		Long: `Search the server's parts catalog by semantic similarity.

Examples:
  bbctl catalog search "rtx 4070"
  bbctl catalog search -k 10 "quiet air cooler"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			q := url.Values{}
			q.Set("q", strings.Join(args, " "))
			q.Set("k", strconv.Itoa(k))

			var resp httpserver.CatalogSearchResponse
			if err := getJSON(ctx, "/api/v1/catalog/search?"+q.Encode(), &resp); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderCatalog(resp))
			return nil
		},
	}
	search.Flags().IntVarP(&k, "limit", "k", 5, "number of results (1-50)")
	cmd.AddCommand(search)
	return cmd
}

// newMonitorCmd opens the live metrics dashboard
func newMonitorCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch server metrics in a live dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval < time.Second {
				return fmt.Errorf("interval must be at least 1s, got %v", interval)
			}
			return monitor.Run(serverURL, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval")
	return cmd
}
