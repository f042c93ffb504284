package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/kanren/internal/models"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// relatedViaHTTP asks a running server, which avoids opening an index the
// server holds locked.
func relatedViaHTTP(ctx context.Context, serverURL string, query *models.RelatedQuery) (*models.RelatedResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	var out models.RelatedResponse
	if err := callAPI(ctx, http.MethodPost, serverURL, "/api/v1/related", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func statusViaHTTP(ctx context.Context, serverURL string) (*models.StatusResponse, error) {
	var out models.StatusResponse
	if err := callAPI(ctx, http.MethodGet, serverURL, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func callAPI(ctx context.Context, method, serverURL, path string, body []byte, out interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	url := strings.TrimRight(serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
