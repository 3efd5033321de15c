package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/pairgate/internal/config"
)

var gatewayURL string

// resolveGatewayURL picks --url, then the configured listen address.
func resolveGatewayURL() string {
	if gatewayURL != "" {
		return strings.TrimRight(gatewayURL, "/")
	}
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.Default()
	}
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Gateway.Port)
}

// gatewayCall sends a JSON request to a running gateway and decodes the
// response into out. Non-2xx bodies are still decoded; the status is
// returned for the caller to interpret.
func gatewayCall(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolveGatewayURL()+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
