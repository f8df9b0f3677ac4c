package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// apiClient talks to a running daemon's control API.
type apiClient struct {
	base string
	http *http.Client
}

func newClient() *apiClient {
	return &apiClient{
		base: "http://" + flagAddr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s (is `guardian run` active?): %w", flagAddr, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *apiClient) post(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s (is `guardian run` active?): %w", flagAddr, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
