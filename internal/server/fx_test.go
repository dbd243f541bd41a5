package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/auth"
	"github.com/JakeFAU/infra-api/internal/config"
)

const testSeed = `
providers:
  - id: 1
    name: osp
    type: openstack
    kind: cloud
vms:
  - id: 10
    name: web
    ems_id: 1
    power_state: "off"
servers:
  - id: 1
    name: EVM
`

func testConfig(t *testing.T) config.Config {
	t.Helper()

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "inventory.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(testSeed), 0o600))

	hash, err := auth.HashPassword("smartvm")
	require.NoError(t, err)

	return config.Config{
		Server:    config.ServerConfig{Port: 3000, BaseURL: "http://infra.test"},
		Region:    config.RegionConfig{ServerID: 1},
		Auth:      config.AuthConfig{Users: []config.UserConfig{{UserID: "admin", PasswordHash: hash, Role: config.SuperAdminRole}}},
		Queue:     config.QueueConfig{Depth: 8, EnqueueTimeoutMs: 100},
		Workers:   config.WorkersConfig{Concurrency: 1},
		RateLimit: config.RateLimitConfig{Enabled: true, ProviderRPS: 10, ProviderBurst: 1},
		Storage:   config.StorageConfig{Backend: "local", BaseDir: filepath.Join(dir, "archive"), Prefix: "tasks"},
		Progress: config.ProgressConfig{
			Enabled:    true,
			BufferSize: 16,
			Batch:      config.BatchConfig{MaxEvents: 4, MaxWaitMs: 10},
		},
		Inventory: config.InventoryConfig{SeedFile: seedPath},
		Telemetry: config.TelemetryConfig{ServiceName: "infra-api-test"},
	}
}

func TestBuildWiresSeededInventory(t *testing.T) {
	ctx := context.Background()
	app, err := Build(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(ctx)) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/vms/10", strings.NewReader(`{"action":"start"}`))
	req.SetBasicAuth("admin", "smartvm")
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["success"])
	require.NotEmpty(t, body["task_id"])
	require.Equal(t, 1, app.queue.Len())
	require.Equal(t, 1, app.dispatch.Size())
}

func TestBuildFailsOnMissingSeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Inventory.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	cfg.Progress.Enabled = false

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "inventory seed")
}

func TestSetupForwarderOnlyWhenRegionsConfigured(t *testing.T) {
	cfg := testConfig(t)
	app := &App{cfg: cfg, logger: zap.NewNop()}
	require.Nil(t, setupForwarder(app))

	cfg.Regions = map[string]config.RemoteRegion{"2": {URL: "http://region2.test"}}
	app = &App{cfg: cfg, logger: zap.NewNop()}
	require.NotNil(t, setupForwarder(app))
}
