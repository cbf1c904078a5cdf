package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/store"
	"github.com/MrSigel/pulseframelabs/backend/telemetry"
)

type botStatus struct {
	Owner     string         `json:"owner"`
	Status    bot.Status     `json:"status"`
	Channel   string         `json:"channel,omitempty"`
	Enabled   []string       `json:"enabled_features"`
	Available []string       `json:"available_features"`
	Logs      []bot.LogEntry `json:"logs,omitempty"`
}

func snapshot(c *bot.Controller, withLogs bool) botStatus {
	s := botStatus{
		Owner:     c.OwnerID(),
		Status:    c.Status(),
		Channel:   c.Channel(),
		Enabled:   nonNil(c.EnabledFeatures()),
		Available: c.AvailableFeatures(),
	}
	if withLogs {
		s.Logs = c.Logs()
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// controller resolves the owner's controller or writes the error response.
func (h *Handlers) controller(w http.ResponseWriter, r *http.Request) (*bot.Controller, bool) {
	owner := r.PathValue("owner")
	c, err := h.bots.Get(r.Context(), owner)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("load bot", slog.String("owner", owner), slog.Any("err", err))
		if errors.Is(err, bot.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "could not load bot")
		return nil, false
	}
	return c, true
}

// HandleBotStatus returns status, features and the recent log.
func (h *Handlers) HandleBotStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshot(c, true))
}

// HandleConnect answers 200 when connected, 401 when the owner must authorize
// first, 409 while another connect runs and 502 when Twitch refused.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	res, err := c.Connect(r.Context())
	switch {
	case errors.Is(err, bot.ErrConnectInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bot.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	case res == bot.ConnectResultAuthorizationRequired:
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"authorization_required": true})
	default:
		writeJSON(w, http.StatusOK, snapshot(c, false))
	}
}

func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	c.Disconnect()
	writeJSON(w, http.StatusOK, snapshot(c, false))
}

// HandleDisconnectAccount disconnects and forgets the stored credentials.
func (h *Handlers) HandleDisconnectAccount(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := c.DisconnectAccount(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleFeatures(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"enabled":   nonNil(c.EnabledFeatures()),
		"available": c.AvailableFeatures(),
	})
}

// HandleToggleFeature takes {"enabled": bool}.
func (h *Handlers) HandleToggleFeature(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	err := c.ToggleFeature(r.Context(), r.PathValue("name"), *body.Enabled)
	switch {
	case errors.Is(err, bot.ErrUnknownFeature):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string][]string{
			"enabled":   nonNil(c.EnabledFeatures()),
			"available": c.AvailableFeatures(),
		})
	}
}

func (h *Handlers) HandleLogs(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Logs())
}

func (h *Handlers) HandleHotwords(w http.ResponseWriter, r *http.Request) {
	counts, err := h.data.HotwordCounts(r.Context(), r.PathValue("owner"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type slotRequestJSON struct {
	ID          string `json:"id"`
	ViewerName  string `json:"viewer_name"`
	SlotName    string `json:"slot_name"`
	Status      string `json:"status"`
	RequestedAt string `json:"requested_at"`
}

// HandleSlotRequests lists requests oldest first; ?status=pending filters.
func (h *Handlers) HandleSlotRequests(w http.ResponseWriter, r *http.Request) {
	status := store.SlotStatus(r.URL.Query().Get("status"))
	switch status {
	case "", store.SlotPending, store.SlotFulfilled:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	reqs, err := h.data.ListSlotRequests(r.Context(), r.PathValue("owner"), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]slotRequestJSON, 0, len(reqs))
	for _, q := range reqs {
		out = append(out, slotRequestJSON{
			ID:          q.ID.String(),
			ViewerName:  q.ViewerName,
			SlotName:    q.SlotName,
			Status:      string(q.Status),
			RequestedAt: q.RequestedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
