package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20 // json-тела; csv-batch лимитируется по строкам

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// мусор после объекта — тоже ошибка клиента
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// Register вешает все ручки на /api/v1 за auth-мидлварью.
func (h *Handler) Register(r *mux.Router, auth mux.MiddlewareFunc) {
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(auth)

	v1.HandleFunc("/status", h.Status).Methods(http.MethodGet)

	v1.HandleFunc("/tunnels", h.ListTunnels).Methods(http.MethodGet)
	v1.HandleFunc("/tunnels", h.CreateTunnel).Methods(http.MethodPost)
	v1.HandleFunc("/tunnels/{tunnel}", h.GetTunnel).Methods(http.MethodGet)
	v1.HandleFunc("/tunnels/{tunnel}", h.RemoveTunnel).Methods(http.MethodDelete)
	v1.HandleFunc("/tunnels/{tunnel}/activate", h.ActivateTunnel).Methods(http.MethodPost)
	v1.HandleFunc("/tunnels/{tunnel}/deactivate", h.DeactivateTunnel).Methods(http.MethodPost)
	v1.HandleFunc("/tunnels/{tunnel}/config", h.TunnelConfig).Methods(http.MethodGet)
	v1.HandleFunc("/tunnels/{tunnel}/bundle", h.TunnelBundle).Methods(http.MethodGet)

	v1.HandleFunc("/tunnels/{tunnel}/peers", h.ListPeers).Methods(http.MethodGet)
	v1.HandleFunc("/tunnels/{tunnel}/peers", h.CreatePeer).Methods(http.MethodPost)
	// batch раньше именованного peer'а, иначе mux сматчит {peer}="batch"
	v1.HandleFunc("/tunnels/{tunnel}/peers/batch", h.BatchPeers).Methods(http.MethodPost)
	v1.HandleFunc("/tunnels/{tunnel}/peers/{peer}", h.GetPeer).Methods(http.MethodGet)
	v1.HandleFunc("/tunnels/{tunnel}/peers/{peer}", h.RemovePeer).Methods(http.MethodDelete)
	v1.HandleFunc("/tunnels/{tunnel}/peers/{peer}/config", h.PeerConfig).Methods(http.MethodGet)

	v1.HandleFunc("/batches", h.ListBatchRuns).Methods(http.MethodGet)
	v1.HandleFunc("/batches/{uuid}", h.GetBatchRun).Methods(http.MethodGet)

	v1.HandleFunc("/tokens", h.IssueToken).Methods(http.MethodPost)
	v1.HandleFunc("/tokens/{keyid}", h.RevokeToken).Methods(http.MethodDelete)
}
