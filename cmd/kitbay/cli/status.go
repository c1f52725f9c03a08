package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if the Kitbay server is running",
		Long:  "Probe the server's liveness (/healthz) and readiness (/readyz) endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				host := cfg.Server.Host
				if host == "" || host == "0.0.0.0" || host == "::" {
					host = "127.0.0.1"
				}
				url = "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
			}

			out := cmd.OutOrStdout()
			client := &http.Client{Timeout: 2 * time.Second}

			health, _, err := probe(client, url+"/healthz")
			if err != nil {
				fmt.Fprintf(out, "Server is not responding at %s\n", url)
				return nil
			}
			ready, body, err := probe(client, url+"/readyz")
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Server is running at %s\n", url)
			fmt.Fprintf(out, "  Health:  %d\n", health)
			if ready == http.StatusOK {
				fmt.Fprintf(out, "  Ready:   yes (driver %s)\n", body["driver"])
			} else {
				fmt.Fprintf(out, "  Ready:   no (%s)\n", body["error"])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Server base URL (default: from server.host and server.port)")

	return cmd
}

// probe GETs a status endpoint and decodes its JSON body.
func probe(client *http.Client, url string) (int, map[string]string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body := map[string]string{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body, nil
}
