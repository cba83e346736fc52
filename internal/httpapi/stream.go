package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"fournil/backend/internal/domain"
)

const streamKeepAlive = 25 * time.Second

// handleProgramStream pushes every stored snapshot of the program as a
// server-sent event. The first event is the current state.
func (a *API) handleProgramStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if a.feed == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("live updates are not configured"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	date := r.PathValue("date")
	current, err := a.service.GetProgram(r.Context(), date)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	events, err := a.feed.Subscribe(r.Context(), date, date)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeProgramEvent(w, *current); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case program, ok := <-events:
			if !ok {
				return
			}
			if err := writeProgramEvent(w, program); err != nil {
				log.Printf("[httpapi] WARN: program stream write date=%s: %v", date, err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeProgramEvent(w http.ResponseWriter, program domain.ProductionProgram) error {
	payload, err := json.Marshal(program)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: program\ndata: %s\n\n", program.Revision, payload)
	return err
}
