// automatectl is a small operator CLI for the automation service REST
// API: list rules, trigger runs, inspect run history.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiURL string
	apiKey string
)

func main() {
	root := &cobra.Command{
		Use:   "automatectl",
		Short: "Operate the PulseCRM automation service",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiKey == "" {
				apiKey = os.Getenv("PULSECRM_API_KEY")
			}
		},
	}
	root.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Base URL of the automation service")
	root.PersistentFlags().StringVar(&apiKey, "api-key", "", "Tenant API key (defaults to PULSECRM_API_KEY)")

	root.AddCommand(rulesCmd(), triggerCmd(), runsCmd(), runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the tenant's automation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return get("/api/v1/automations")
		},
	}
}

func triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <rule-id>",
		Short: "Queue a manual run of a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/api/v1/automations/" + args[0] + "/trigger")
		},
	}
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <rule-id>",
		Short: "List recent runs of a rule, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return get(fmt.Sprintf("/api/v1/automations/%s/runs?limit=%d", args[0], limit))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to return")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <run-id>",
		Short: "Show one run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return get("/api/v1/runs/" + args[0])
		},
	}
}

func get(path string) error  { return call(http.MethodGet, path) }
func post(path string) error { return call(http.MethodPost, path) }

func call(method, path string) error {
	req, err := http.NewRequest(method, strings.TrimRight(apiURL, "/")+path, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	// Pretty-print JSON responses; pass through anything else.
	var pretty json.RawMessage
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err == nil {
			fmt.Println(string(out))
			return nil
		}
	}
	fmt.Println(string(body))
	return nil
}
