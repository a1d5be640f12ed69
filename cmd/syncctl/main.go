// cmd/syncctl/main.go
//
// syncctl – operator CLI for the sync service's admin API.
//
// Every command is a thin call against a running caresyncd; the binary
// holds no database handle and no secrets beyond the target URL.  The
// campus comes from --campus and travels as the X-Campus-ID header,
// exactly as the dashboard gateway would send it.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagAddr   string
	flagCampus uint64
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// call performs one admin request.  The generous timeout exists for
// `pull`, which blocks until the whole run finishes.
func call(method, path string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequest(method, flagAddr+path, body)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if flagCampus != 0 {
		req.Header.Set("X-Campus-ID", strconv.FormatUint(flagCampus, 10))
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func requireCampus(cmd *cobra.Command, _ []string) error {
	if flagCampus == 0 {
		return errors.New("--campus is required")
	}
	return nil
}

// apiMessage digs the service's error or message field out of a reply.
func apiMessage(raw []byte) string {
	var m map[string]any
	if json.Unmarshal(raw, &m) == nil {
		if s, ok := m["error"].(string); ok {
			return s
		}
		if s, ok := m["message"].(string); ok {
			return s
		}
	}
	return string(bytes.TrimSpace(raw))
}

func pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "pull",
		Short:   "Run a full sync now and wait for it",
		PreRunE: requireCampus,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, status, err := call(http.MethodPost, "/sync/members/pull", nil)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusOK:
			case http.StatusConflict:
				fmt.Fprintln(cmd.OutOrStdout(), "skipped:", apiMessage(raw))
				return nil
			default:
				return fmt.Errorf("pull failed (%d): %s", status, apiMessage(raw))
			}

			var run struct {
				Status          string  `json:"status"`
				Fetched         int     `json:"fetched"`
				Created         int     `json:"created"`
				Updated         int     `json:"updated"`
				Archived        int     `json:"archived"`
				Skipped         int     `json:"skipped"`
				ErrorDetail     *string `json:"error_detail"`
				DurationSeconds float64 `json:"duration_seconds"`
			}
			if err := json.Unmarshal(raw, &run); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s in %.1fs  fetched=%d created=%d updated=%d archived=%d skipped=%d\n",
				run.Status, run.DurationSeconds,
				run.Fetched, run.Created, run.Updated, run.Archived, run.Skipped)
			if run.ErrorDetail != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "detail:", *run.ErrorDetail)
			}
			if run.Status == "failed" {
				return errors.New("run failed")
			}
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "test-connection",
		Short:   "Verify the saved credentials against the core system",
		PreRunE: requireCampus,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, status, err := call(http.MethodPost, "/sync/test-connection", nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("test failed (%d): %s", status, apiMessage(raw))
			}
			var verdict struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(raw, &verdict); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), verdict.Message)
			if !verdict.Success {
				return errors.New("connection test failed")
			}
			return nil
		},
	}
}

func logsCmd() *cobra.Command {
	var page, limit int
	c := &cobra.Command{
		Use:     "logs",
		Short:   "Show recent sync runs",
		PreRunE: requireCampus,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := fmt.Sprintf("/sync/logs?page=%d&limit=%d", page, limit)
			raw, status, err := call(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("logs failed (%d): %s", status, apiMessage(raw))
			}

			var resp struct {
				Runs []struct {
					ID              uint64    `json:"id"`
					Trigger         string    `json:"trigger"`
					Status          string    `json:"status"`
					Fetched         int       `json:"fetched"`
					Created         int       `json:"created"`
					Updated         int       `json:"updated"`
					Archived        int       `json:"archived"`
					Skipped         int       `json:"skipped"`
					StartedAt       time.Time `json:"started_at"`
					DurationSeconds float64   `json:"duration_seconds"`
				} `json:"runs"`
				Total int `json:"total"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tTRIGGER\tSTATUS\tFETCHED\tCREATED\tUPDATED\tARCHIVED\tSKIPPED\tDURATION")
			for _, r := range resp.Runs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.1fs\n",
					r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"),
					r.Trigger, r.Status,
					r.Fetched, r.Created, r.Updated, r.Archived, r.Skipped,
					r.DurationSeconds)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d run(s) total\n", resp.Total)
			return nil
		},
	}
	c.Flags().IntVar(&page, "page", 1, "page number")
	c.Flags().IntVar(&limit, "limit", 20, "runs per page (max 100)")
	return c
}

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rotate-secret",
		Short:   "Rotate the webhook signing secret",
		PreRunE: requireCampus,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, status, err := call(http.MethodPost, "/sync/regenerate-secret", nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("rotation failed (%d): %s", status, apiMessage(raw))
			}
			var resp struct {
				WebhookSecret string `json:"webhook_secret"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.WebhookSecret)
			fmt.Fprintln(cmd.ErrOrStderr(),
				"store this secret in the core system now; it is not shown again and the old one is already invalid")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "config",
		Short:   "Show the saved sync configuration (secrets masked)",
		PreRunE: requireCampus,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, status, err := call(http.MethodGet, "/sync/config", nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("config fetch failed (%d): %s", status, apiMessage(raw))
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, raw, "", "  "); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check service readiness and credential-key provenance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, status, err := call(http.MethodGet, "/healthz", nil)
			if err != nil {
				return err
			}
			var resp struct {
				Status        string `json:"status"`
				Database      string `json:"database"`
				CredentialKey string `json:"credential_key"`
				Degraded      bool   `json:"degraded"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s database=%s credential_key=%s degraded=%v\n",
				resp.Status, resp.Database, resp.CredentialKey, resp.Degraded)
			if status != http.StatusOK || resp.Degraded {
				return errors.New("service is not fully healthy")
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operator CLI for the member sync service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagAddr, "addr",
		envOr("CARESYNC_ADDR", "http://localhost:8080"), "base URL of the sync service")
	root.PersistentFlags().Uint64Var(&flagCampus, "campus", 0, "campus id")

	root.AddCommand(pullCmd(), testCmd(), logsCmd(), rotateCmd(), configCmd(), healthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "syncctl:", err)
		os.Exit(1)
	}
}
