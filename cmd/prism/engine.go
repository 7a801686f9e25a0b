package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/prism/internal/config"
	"github.com/JonMunkholm/prism/internal/core"
	"github.com/JonMunkholm/prism/internal/engine"
	"github.com/JonMunkholm/prism/internal/loader"
)

func newEngineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Load the analytics engine or inspect a running server's engine",
	}
	cmd.AddCommand(newEngineLoadCmd(), newEngineStatusCmd())
	return cmd
}

// newEngineLoadCmd runs the loader in-process with the environment's
// engine settings, which is how operators check a CDN configuration.
func newEngineLoadCmd() *cobra.Command {
	var (
		noFallback bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Fetch the engine bundle with the configured candidates and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if noFallback {
				cfg.Engine.Fallback = false
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			ld := loader.NewFromConfig(&cfg.Engine, loader.NewNamespace(), nil)
			e, loadErr := ld.Load(ctx)
			renderState(cmd.OutOrStdout(), ld.State(), cfg.Engine.Candidates())
			if loadErr != nil {
				return fmt.Errorf("%s", core.FormatUserError(loadErr))
			}
			defer e.Cleanup(context.Background())

			return e.WaitForReady(ctx, engine.ReadyOptions{
				OnProgress: func(p engine.Progress) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%3d%% %s\n", p.Percent, p.Status)
				},
			})
		},
	}

	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "fail instead of installing the stub engine")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall bound on the load")
	return cmd
}

func newEngineStatusCmd() *cobra.Command {
	var (
		server string
		apiKey string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the engine state of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := fetchState(cmd.Context(), http.DefaultClient, server, apiKey)
			if err != nil {
				return err
			}
			renderState(cmd.OutOrStdout(), st, nil)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "dashboard base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "X-API-Key for servers that require one")
	return cmd
}

func fetchState(ctx context.Context, client *http.Client, server, apiKey string) (loader.LoaderState, error) {
	var st loader.LoaderState

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/api/engine", nil)
	if err != nil {
		return st, err
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return st, fmt.Errorf("GET /api/engine: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode engine state: %w", err)
	}
	return st, nil
}

func renderState(w io.Writer, st loader.LoaderState, candidates []string) {
	t := newTable(w)
	t.AppendRow(table.Row{"phase", st.Phase})
	kind := "remote"
	if st.Stub {
		kind = "stub (fallback)"
	}
	if st.IsLoaded {
		t.AppendRow(table.Row{"engine", kind})
	}
	if st.Source != "" {
		t.AppendRow(table.Row{"source", st.Source})
	}
	if st.LoadTimeMs != nil {
		t.AppendRow(table.Row{"load time", fmt.Sprintf("%.0f ms", *st.LoadTimeMs)})
	}
	if st.Error != "" {
		t.AppendRow(table.Row{"error", st.Error})
	}
	for i, c := range candidates {
		t.AppendRow(table.Row{fmt.Sprintf("candidate %d", i+1), c})
	}
	t.Render()
}
