// Package region relays resource actions to the API of the region that owns
// the resource.
package region

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/config"
)

// NotConfiguredError is returned when no remote API is configured for a region.
type NotConfiguredError struct {
	Region int64
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("Region %d is not configured for central administration", e.Region)
}

// Lookup resolves a region number to its remote API settings.
type Lookup func(region int64) (config.RemoteRegion, bool)

// Forwarder posts actions to remote regions.
type Forwarder struct {
	lookup Lookup
	client *http.Client
	logger *zap.Logger
}

// New constructs a Forwarder. A nil client gets a 30s timeout client.
func New(lookup Lookup, client *http.Client, logger *zap.Logger) *Forwarder {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{lookup: lookup, client: client, logger: logger}
}

// Forward invokes action on the remote resource and returns the decoded
// action result unchanged.
func (f *Forwarder) Forward(
	ctx context.Context,
	region int64,
	collection string,
	id int64,
	action string,
	data map[string]any,
) (map[string]any, error) {
	remote, ok := f.lookup(region)
	if !ok {
		return nil, &NotConfiguredError{Region: region}
	}

	body := map[string]any{"action": action}
	if len(data) > 0 {
		body["resource"] = data
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode forwarded action: %w", err)
	}

	url := fmt.Sprintf("%s/api/%s/%d", strings.TrimRight(remote.URL, "/"), collection, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build forwarded request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if remote.User != "" {
		req.SetBasicAuth(remote.User, remote.Password)
	}

	f.logger.Info("forwarding action to region",
		zap.Int64("region", region),
		zap.String("collection", collection),
		zap.Int64("id", id),
		zap.String("action", action),
	)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward %s to region %d: %w", action, region, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read region %d response: %w", region, err)
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("region %d returned %d with undecodable body: %w", region, resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if msg, ok := remoteErrorMessage(result); ok {
			return nil, fmt.Errorf("region %d: %s", region, msg)
		}
		return nil, fmt.Errorf("region %d returned status %d", region, resp.StatusCode)
	}
	return result, nil
}

func remoteErrorMessage(body map[string]any) (string, bool) {
	envelope, ok := body["error"].(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := envelope["message"].(string)
	return msg, ok
}
