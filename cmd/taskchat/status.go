package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/taskchat/internal/config"
)

func newStatusCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server health (/healthz)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if server == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("config load: %w", err)
				}
				server = cfg.BindAddr
			}
			return runStatus(cmd.Context(), serverURL(server), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server address (default: bind_addr from config)")
	return cmd
}

func runStatus(ctx context.Context, base string, out io.Writer) error {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	_, _ = out.Write(body)
	if len(body) == 0 || body[len(body)-1] != '\n' {
		_, _ = out.Write([]byte("\n"))
	}
	if resp.StatusCode != http.StatusOK {
		return &exitError{code: 1, err: fmt.Errorf("server unhealthy: %s", resp.Status)}
	}
	return nil
}

// serverURL turns a bind address into a base URL. Wildcard hosts are
// dialed on loopback.
func serverURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
