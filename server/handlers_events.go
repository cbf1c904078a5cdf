package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/telemetry"
)

// eventBuffer bounds the events queued for a slow client; overflow is dropped.
const eventBuffer = 64

type sseEvent struct {
	name string
	data any
}

// HandleEvents streams "status" and "log" events of one bot as server-sent
// events. The current status is sent first.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	c, ok := h.controller(w, r)
	if !ok {
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("owner", c.OwnerID()), slog.String("component", "sse"))

	events := make(chan sseEvent, eventBuffer)
	// bus callbacks run synchronously, so they must never block
	push := func(ev sseEvent) {
		select {
		case events <- ev:
		default:
			log.Warn("sse client too slow, dropping event", slog.String("event", ev.name))
		}
	}
	unsubStatus := c.SubscribeStatus(func(s bot.Status) {
		push(sseEvent{name: "status", data: map[string]bot.Status{"status": s}})
	})
	defer unsubStatus()
	unsubLog := c.SubscribeLog(func(e bot.LogEntry) {
		push(sseEvent{name: "log", data: e})
	})
	defer unsubLog()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, sseEvent{name: "status", data: map[string]bot.Status{"status": c.Status()}}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := writeEvent(w, ev); err != nil {
				log.Debug("sse write failed", slog.Any("err", err))
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev sseEvent) error {
	data, err := json.Marshal(ev.data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data)
	return err
}
