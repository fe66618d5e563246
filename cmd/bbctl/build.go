package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/buildbuddy/internal/http"
	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
	"github.com/fyrsmithlabs/buildbuddy/internal/secrets"
)

type buildFlags struct {
	verbose bool
	stream  bool
	offline bool
	asJSON  bool
}

func newBuildCmd() *cobra.Command {
	var f buildFlags
	cmd := &cobra.Command{
		Use:   "build <query>",
		Short: "Request a PC build",
		Long: `Run the Build, Critique, Improve and Visualize pipeline for a request.

Examples:
  # Ask the server for a build
  bbctl build "1440p gaming PC under $1200, white case"

  # Show every stage and live progress
  bbctl build --verbose --stream "quiet workstation for video editing"

  # Run the pipeline locally with deterministic mock output
  bbctl build --offline "budget office PC"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return pipeline.ErrEmptyQuery
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			var (
				resp httpserver.BuildResponse
				err  error
			)
			progress := func(p pipeline.Progress) {
				fmt.Fprintln(cmd.ErrOrStderr(), renderProgress(p))
			}
			switch {
			case f.offline:
				resp, err = runOffline(ctx, query, f.verbose, progressIf(f.stream, progress))
			case f.stream:
				resp, err = runStream(ctx, query, f.verbose, progress)
			default:
				resp, err = runRemote(ctx, query, f.verbose)
			}
			if err != nil {
				return err
			}

			if f.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderBuild(resp, f.verbose))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "include every stage result")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "print stage progress as it happens")
	cmd.Flags().BoolVar(&f.offline, "offline", false, "run locally in mock mode without a server")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func progressIf(enabled bool, fn pipeline.ProgressFunc) pipeline.ProgressFunc {
	if !enabled {
		return nil
	}
	return fn
}

// runOffline runs the pipeline in-process with mock stage output.
func runOffline(ctx context.Context, query string, verbose bool, onProgress pipeline.ProgressFunc) (httpserver.BuildResponse, error) {
	orch, err := pipeline.New(pipeline.Options{
		MockMode: true,
		Logger:   logging.Nop(),
		Scrubber: secrets.MustNew(),
	})
	if err != nil {
		return httpserver.BuildResponse{}, err
	}
	report, err := orch.RunPipeline(ctx, pipeline.Request{Query: query, Verbose: verbose, OnProgress: onProgress})
	if err != nil {
		return httpserver.BuildResponse{}, err
	}
	return httpserver.NewBuildResponse(report), nil
}

func runRemote(ctx context.Context, query string, verbose bool) (httpserver.BuildResponse, error) {
	var out httpserver.BuildResponse
	resp, err := postJSON(ctx, "/api/v1/build-pc", httpserver.BuildRequest{Query: query, Verbose: verbose})
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// runStream reads the server-sent event stream, reporting progress events
// until the final report or error event.
func runStream(ctx context.Context, query string, verbose bool, onProgress pipeline.ProgressFunc) (httpserver.BuildResponse, error) {
	resp, err := postJSON(ctx, "/api/v1/build-pc/stream", httpserver.BuildRequest{Query: query, Verbose: verbose})
	if err != nil {
		return httpserver.BuildResponse{}, err
	}
	defer resp.Body.Close()
	return readStream(resp.Body, onProgress)
}

func readStream(r io.Reader, onProgress pipeline.ProgressFunc) (httpserver.BuildResponse, error) {
	var out httpserver.BuildResponse
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	event := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			switch event {
			case "progress":
				var p pipeline.Progress
				if err := json.Unmarshal(data, &p); err != nil {
					return out, fmt.Errorf("failed to decode progress event: %w", err)
				}
				if onProgress != nil {
					onProgress(p)
				}
			case "report":
				if err := json.Unmarshal(data, &out); err != nil {
					return out, fmt.Errorf("failed to decode report event: %w", err)
				}
				return out, nil
			case "error":
				var ev httpserver.ErrorEvent
				if err := json.Unmarshal(data, &ev); err != nil {
					return out, fmt.Errorf("failed to decode error event: %w", err)
				}
				return out, &apiError{Status: ev.Status, Message: ev.Message}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("failed to read stream: %w", err)
	}
	return out, errors.New("stream ended without a report")
}
