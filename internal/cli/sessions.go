package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/harun/wabridge/internal/config"
	"github.com/harun/wabridge/pkg/command"
	"github.com/harun/wabridge/pkg/session"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions held by the running daemon",
	RunE:  runSessions,
}

var sessionsLogoutCmd = &cobra.Command{
	Use:   "logout <session-id>",
	Short: "Log a session out and delete its credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsLogout,
}

func init() {
	sessionsCmd.AddCommand(sessionsLogoutCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sessions, err := newAPIClient(cfg).listSessions(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATE\tSUBSCRIBER\tWEBHOOK")
	for _, s := range sessions {
		subscriber := s.SubscriberID
		if subscriber == "" {
			subscriber = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", s.ID, s.Variant, s.State, subscriber, s.HasWebhook)
	}
	return w.Flush()
}

func runSessionsLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := newAPIClient(cfg).logout(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s logged out\n", args[0])
	return nil
}

// apiClient talks to the daemon's HTTP API.
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient(cfg *config.Config) *apiClient {
	host := cfg.HTTP.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return &apiClient{
		base:   "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.HTTP.Port)),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) listSessions(ctx context.Context) ([]session.Summary, error) {
	var sessions []session.Summary
	if err := c.do(ctx, http.MethodGet, "/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *apiClient) logout(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil)
}

// do issues the request and unpacks the envelope's result into out.
func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon API unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool               `json:"success"`
		Result  json.RawMessage    `json:"result"`
		Error   *command.ErrorBody `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("invalid API response: %w", err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}
