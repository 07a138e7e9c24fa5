// cmd/noahpoller/http.go
package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamzrod/noah-poller/internal/poller"
	"github.com/tamzrod/noah-poller/internal/snapshot"
	"github.com/tamzrod/noah-poller/internal/status"
)

// devices keeps config order for stable output.
type devices struct {
	order []*poller.Poller
	byID  map[string]*poller.Poller
}

func newDevices() *devices {
	return &devices{byID: make(map[string]*poller.Poller)}
}

func (d *devices) add(p *poller.Poller) {
	d.order = append(d.order, p)
	d.byID[p.DeviceID()] = p
}

// newMux wires the daemon's HTTP surface.
func newMux(devs *devices, reg *prometheus.Registry, ws http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		out := make([]status.Snapshot, 0, len(devs.order))
		for _, p := range devs.order {
			out = append(out, p.Status())
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /latest", func(w http.ResponseWriter, r *http.Request) {
		if id := r.URL.Query().Get("device"); id != "" {
			p, ok := devs.byID[id]
			if !ok {
				writeError(w, http.StatusNotFound, "unknown device")
				return
			}
			s, ok := p.Latest()
			if !ok {
				writeError(w, http.StatusNotFound, "no readings available yet")
				return
			}
			writeJSON(w, http.StatusOK, s)
			return
		}

		out := make([]snapshot.DeviceSnapshot, 0, len(devs.order))
		for _, p := range devs.order {
			if s, ok := p.Latest(); ok {
				out = append(out, s)
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.Handle("GET /ws", ws)

	mux.HandleFunc("POST /refresh", func(w http.ResponseWriter, r *http.Request) {
		p, ok := devs.byID[r.URL.Query().Get("device")]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown device")
			return
		}
		if !p.Refresh() {
			writeError(w, http.StatusTooManyRequests, "refresh rejected")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
	})

	mux.HandleFunc("POST /resume", func(w http.ResponseWriter, r *http.Request) {
		p, ok := devs.byID[r.URL.Query().Get("device")]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown device")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"resumed": p.Resume()})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
