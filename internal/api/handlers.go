package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"warren/internal/alloc"
	"warren/internal/auth"
	"warren/internal/batch"
	"warren/internal/models"
	"warren/internal/provision"
	"warren/internal/registry"
	"warren/internal/repo"
	"warren/internal/system"
	"warren/internal/vpn/wireguard"
)

type Handler struct {
	svc    *provision.Service
	batch  *batch.Provisioner
	runs   *repo.BatchRunStore
	tokens *auth.Service // nil в режиме без БД
}

func NewHandler(svc *provision.Service, bp *batch.Provisioner, runs *repo.BatchRunStore, tokens *auth.Service) *Handler {
	return &Handler{svc: svc, batch: bp, runs: runs, tokens: tokens}
}

// writeError отображает доменные ошибки на HTTP-статусы; машиночитаемый
// код причины всегда в extra.reason.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	title := "Internal Server Error"

	var ve *provision.ValidationError
	switch {
	case errors.As(err, &ve):
		status, title = http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, batch.ErrMalformedInput), errors.Is(err, batch.ErrBatchTooLarge):
		status, title = http.StatusBadRequest, "Bad Batch Input"
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrUnknownTunnel):
		status, title = http.StatusNotFound, "Not Found"
	case errors.Is(err, registry.ErrDuplicateName), errors.Is(err, registry.ErrReservedName),
		errors.Is(err, alloc.ErrAddressConflict):
		status, title = http.StatusConflict, "Conflict"
	case errors.Is(err, alloc.ErrPortRangeExhausted), errors.Is(err, alloc.ErrSubnetPoolExhausted),
		errors.Is(err, alloc.ErrAddressPoolExhausted):
		status, title = http.StatusConflict, "Pool Exhausted"
	case errors.Is(err, wireguard.ErrKeyGenFailed), errors.Is(err, system.ErrDependencyMissing):
		status, title = http.StatusServiceUnavailable, "Environment Error"
	}
	models.WriteProblem(w, status, title, err.Error(), map[string]any{
		"reason": reasonCode(err),
	})
}

func reasonCode(err error) string {
	switch {
	case errors.Is(err, batch.ErrMalformedInput):
		return "MalformedInput"
	case errors.Is(err, batch.ErrBatchTooLarge):
		return "BatchTooLarge"
	}
	return provision.Reason(err)
}

// ---- status ----

// GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	models.WriteJSON(w, http.StatusOK, h.svc.Status())
}

// ---- tunnels ----

type tunnelRequest struct {
	Name string `json:"name"`
	Port int    `json:"port,omitempty"` // 0 — из пула
}

// POST /api/v1/tunnels
func (h *Handler) CreateTunnel(w http.ResponseWriter, r *http.Request) {
	var req tunnelRequest
	if err := decodeJSON(r, &req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	t, err := h.svc.CreateTunnel(r.Context(), provision.TunnelRequest{Name: req.Name, Port: req.Port})
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, t)
}

// GET /api/v1/tunnels
func (h *Handler) ListTunnels(w http.ResponseWriter, _ *http.Request) {
	models.WriteJSON(w, http.StatusOK, h.svc.Tunnels())
}

// GET /api/v1/tunnels/{tunnel}
func (h *Handler) GetTunnel(w http.ResponseWriter, r *http.Request) {
	t, ok := h.svc.Tunnel(mux.Vars(r)["tunnel"])
	if !ok {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "no such tunnel", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, t)
}

// DELETE /api/v1/tunnels/{tunnel}
func (h *Handler) RemoveTunnel(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.RemoveTunnel(r.Context(), mux.Vars(r)["tunnel"])
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, t)
}

// POST /api/v1/tunnels/{tunnel}/activate
func (h *Handler) ActivateTunnel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ActivateTunnel(r.Context(), mux.Vars(r)["tunnel"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// POST /api/v1/tunnels/{tunnel}/deactivate
func (h *Handler) DeactivateTunnel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeactivateTunnel(r.Context(), mux.Vars(r)["tunnel"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GET /api/v1/tunnels/{tunnel}/config — серверный артефакт
func (h *Handler) TunnelConfig(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.svc.TunnelArtifact(mux.Vars(r)["tunnel"])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(artifact)
}

// GET /api/v1/tunnels/{tunnel}/bundle — tar.gz со всеми артефактами
func (h *Handler) TunnelBundle(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["tunnel"]
	data, sum, err := h.svc.Bundle(name)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.tar.gz"`)
	w.Header().Set("X-Checksum", "sha256:"+sum)
	_, _ = w.Write(data)
}

// ---- peers ----

type peerRequest struct {
	Name       string   `json:"name"`
	IP         string   `json:"ip,omitempty"` // "auto" или литерал
	AllowedIPs []string `json:"allowed_ips,omitempty"`
	DNS        []string `json:"dns,omitempty"`
	Keepalive  *int     `json:"keepalive,omitempty"`
}

type peerResponse struct {
	Peer   models.Peer `json:"peer"`
	Config string      `json:"config"` // клиентский артефакт
}

// POST /api/v1/tunnels/{tunnel}/peers
func (h *Handler) CreatePeer(w http.ResponseWriter, r *http.Request) {
	var req peerRequest
	if err := decodeJSON(r, &req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	p, artifact, err := h.svc.CreatePeer(r.Context(), provision.PeerRequest{
		Tunnel:     mux.Vars(r)["tunnel"],
		Name:       req.Name,
		Address:    req.IP,
		AllowedIPs: req.AllowedIPs,
		DNS:        req.DNS,
		Keepalive:  req.Keepalive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, peerResponse{Peer: p, Config: string(artifact)})
}

// GET /api/v1/tunnels/{tunnel}/peers
func (h *Handler) ListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.svc.Peers(mux.Vars(r)["tunnel"])
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, peers)
}

// GET /api/v1/tunnels/{tunnel}/peers/{peer}
func (h *Handler) GetPeer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, ok := h.svc.Peer(vars["tunnel"], vars["peer"])
	if !ok {
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "no such peer", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, p)
}

// GET /api/v1/tunnels/{tunnel}/peers/{peer}/config — клиентский артефакт
func (h *Handler) PeerConfig(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	artifact, err := h.svc.PeerArtifact(vars["tunnel"], vars["peer"])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(artifact)
}

// DELETE /api/v1/tunnels/{tunnel}/peers/{peer}
func (h *Handler) RemovePeer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := h.svc.RemovePeer(r.Context(), vars["tunnel"], vars["peer"])
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, p)
}

// ---- batch ----

// POST /api/v1/tunnels/{tunnel}/peers/batch — тело text/csv
func (h *Handler) BatchPeers(w http.ResponseWriter, r *http.Request) {
	sum, err := h.batch.Run(r.Context(), mux.Vars(r)["tunnel"], r.Body)
	if err != nil && sum == nil {
		writeError(w, err)
		return
	}
	if err != nil {
		// прогон оборван фатальной ошибкой окружения: отдаём частичный
		// ledger и причину, статус — за окружением
		models.WriteProblem(w, http.StatusServiceUnavailable, "Batch Aborted", err.Error(), map[string]any{
			"reason":  reasonCode(err),
			"summary": sum,
		})
		return
	}
	models.WriteJSON(w, http.StatusOK, sum)
}

// GET /api/v1/batches?tunnel=&limit=
func (h *Handler) ListBatchRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.runs.List(r.Context(), r.URL.Query().Get("tunnel"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, runs)
}

// ---- токены ----

type tokenRequest struct {
	Scope string `json:"scope,omitempty"`
}

// POST /api/v1/tokens — выпуск нового токена; значение отдаётся один раз.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		models.WriteProblem(w, http.StatusServiceUnavailable, "No Token Store",
			"api tokens require a database", nil)
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
		return
	}
	token, err := h.tokens.Issue(r.Context(), req.Scope)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, map[string]string{"token": token})
}

// DELETE /api/v1/tokens/{keyid}
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		models.WriteProblem(w, http.StatusServiceUnavailable, "No Token Store",
			"api tokens require a database", nil)
		return
	}
	if err := h.tokens.Revoke(r.Context(), mux.Vars(r)["keyid"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/batches/{uuid}
func (h *Handler) GetBatchRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		if errors.Is(err, repo.ErrRunNotFound) {
			models.WriteProblem(w, http.StatusNotFound, "Not Found", err.Error(), nil)
			return
		}
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, run)
}
