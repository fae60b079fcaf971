package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/sessions"
	"github.com/vango-go/vai-botapi/pkg/gateway/config"
	"github.com/vango-go/vai-botapi/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports 503 while draining and 500 when the configuration is
// unusable.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		AuthEnabled    bool     `json:"auth_enabled"`
		ActiveSessions int      `json:"active_sessions"`
		Issues         []string `json:"issues,omitempty"`
	}

	var issues []string
	if err := h.Config.Validate(); err != nil {
		issues = append(issues, err.Error())
	}
	draining := h.Lifecycle.IsDraining()

	status := http.StatusOK
	switch {
	case len(issues) > 0:
		status = http.StatusInternalServerError
	case draining:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             status == http.StatusOK,
		Draining:       draining,
		AuthEnabled:    h.Config.Token != "",
		ActiveSessions: h.Sessions.Count(),
		Issues:         issues,
	})
}
