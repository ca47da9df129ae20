package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warren/config"
	"warren/internal/alloc"
	"warren/internal/batch"
	"warren/internal/logs"
	"warren/internal/models"
	"warren/internal/provision"
	"warren/internal/registry"
	"warren/internal/repo"
	"warren/internal/system"
	"warren/internal/vpn/wireguard"
)

func TestMain(m *testing.M) {
	logs.Init(logs.Options{Level: "error"})
	m.Run()
}

type fakeKeys struct{ n int }

func (f *fakeKeys) GenerateKeypair() (wireguard.Keypair, error) {
	f.n++
	return wireguard.Keypair{Private: fmt.Sprintf("priv-%d", f.n), Public: fmt.Sprintf("pub-%d", f.n)}, nil
}

func (f *fakeKeys) GeneratePresharedSecret() (string, error) {
	f.n++
	return fmt.Sprintf("psk-%d", f.n), nil
}

func newTestRouter(t *testing.T, sharedSecret string) (*mux.Router, *provision.Service) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Address = "0.0.0.0"
	cfg.WireGuard.EndpointHost = "vpn.example.com"
	cfg.WireGuard.DNS = []string{"1.1.1.1"}
	cfg.WireGuard.AllowedIPs = []string{"0.0.0.0/0"}
	cfg.WireGuard.Keepalive = 25

	reg := registry.New(nil, []string{"server", "all", "none", "auto"})
	pairs, err := alloc.BuildSubnetPairs("10.8.0.0/24", "fd00:8:0::/64", 4)
	require.NoError(t, err)
	al := alloc.New(reg, 51820, 51825, pairs)
	svc := provision.NewService(reg, al, &fakeKeys{}, system.NoopActivator{}, system.NoopChecker{}, cfg)

	runs := repo.NewBatchRunStore(nil)
	bp := batch.New(svc, runs, 500, 0)

	r := mux.NewRouter().StrictSlash(true)
	NewHandler(svc, bp, runs, nil).Register(r, APIKeyAuth(nil, sharedSecret))
	return r, svc
}

func doJSON(t *testing.T, r *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func reasonOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var p models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	extra, _ := p.Extra.(map[string]any)
	reason, _ := extra["reason"].(string)
	return reason
}

func TestTunnelLifecycle(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := doJSON(t, r, http.MethodPost, "/api/v1/tunnels", map[string]any{"name": "wg0"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.Tunnel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, 51820, created.Port)
	assert.NotContains(t, w.Body.String(), "priv-", "приватный ключ не светится в JSON")

	w = doJSON(t, r, http.MethodGet, "/api/v1/tunnels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Tunnel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = doJSON(t, r, http.MethodPost, "/api/v1/tunnels/wg0/activate", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/tunnels/wg0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Tunnel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.TunnelStatusActive, got.Status)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/tunnels/wg0", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/v1/tunnels/wg0", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTunnelErrors(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := doJSON(t, r, http.MethodPost, "/api/v1/tunnels", map[string]any{"name": "bad name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError:name", reasonOf(t, w))

	doJSON(t, r, http.MethodPost, "/api/v1/tunnels", map[string]any{"name": "wg0"})
	w = doJSON(t, r, http.MethodPost, "/api/v1/tunnels", map[string]any{"name": "wg0"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DuplicateName", reasonOf(t, w))

	w = doJSON(t, r, http.MethodDelete, "/api/v1/tunnels/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", reasonOf(t, w))

	// неизвестное поле в JSON — ошибка клиента
	w = doJSON(t, r, http.MethodPost, "/api/v1/tunnels", map[string]any{"name": "wg1", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPeerEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, "")
	doJSON(t, r, http.MethodPost, "/api/v1/tunnels", map[string]any{"name": "wg0"})

	w := doJSON(t, r, http.MethodPost, "/api/v1/tunnels/wg0/peers",
		map[string]any{"name": "alice", "ip": "auto"})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Peer   models.Peer `json:"peer"`
		Config string      `json:"config"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "10.8.0.2", resp.Peer.Address)
	assert.Contains(t, resp.Config, "[Interface]")
	assert.Contains(t, resp.Config, "Endpoint = vpn.example.com:51820")

	w = doJSON(t, r, http.MethodGet, "/api/v1/tunnels/wg0/peers/alice/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "PrivateKey = ")

	w = doJSON(t, r, http.MethodGet, "/api/v1/tunnels/wg0/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ListenPort = 51820")

	w = doJSON(t, r, http.MethodGet, "/api/v1/tunnels/wg0/bundle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Header().Get("X-Checksum"), "sha256:"))

	w = doJSON(t, r, http.MethodDelete, "/api/v1/tunnels/wg0/peers/alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/v1/tunnels/wg0/peers/alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, "")
	doJSON(t, r, http.MethodPost, "/api/v1/tunnels", map[string]any{"name": "wg0"})

	csv := "name,ip,allowed_ips,dns,keepalive\n" +
		"alice,auto,,,\n" +
		"bob,auto,,,-5\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tunnels/wg0/peers/batch", strings.NewReader(csv))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var sum batch.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Applied)
	assert.Equal(t, 1, sum.Rejected)

	// битый заголовок — отказ пакета целиком
	req = httptest.NewRequest(http.MethodPost, "/api/v1/tunnels/wg0/peers/batch", strings.NewReader("name,ip\n"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MalformedInput", reasonOf(t, w))
}

func TestStatusEndpoint(t *testing.T) {
	r, svc := newTestRouter(t, "")
	_, err := svc.CreateTunnel(context.Background(), provision.TunnelRequest{Name: "wg0"})
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st provision.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Tunnels)
	assert.Equal(t, 5, st.FreePorts)
}

func TestSharedSecretAuth(t *testing.T) {
	r, _ := newTestRouter(t, "s3cret")

	w := doJSON(t, r, http.MethodGet, "/api/v1/status", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-API-Key", "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// тот же секрет через Bearer
	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokensRequireDB(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := doJSON(t, r, http.MethodPost, "/api/v1/tokens", map[string]any{"scope": "admin"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/tokens/abcdef", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBatchRunsWithoutDB(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := doJSON(t, r, http.MethodGet, "/api/v1/batches", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/batches/no-such-run", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
