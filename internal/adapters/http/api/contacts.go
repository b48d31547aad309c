package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/patpat/internal/adapters/mq/queue"
	"github.com/okian/patpat/internal/domain/model"
)

const maxContactBody = 1 << 20

// contactRequest is one reading. TS is optional RFC3339; the receipt time is
// used when it is missing.
type contactRequest struct {
	ReceiverID string   `json:"receiver_id"`
	Value      *float64 `json:"value"`
	TS         string   `json:"ts,omitempty"`
}

func (c contactRequest) reading(now time.Time) (model.Reading, error) {
	if strings.TrimSpace(c.ReceiverID) == "" {
		return model.Reading{}, errors.New("missing receiver_id")
	}
	if c.Value == nil {
		return model.Reading{}, errors.New("missing value")
	}
	r := model.Reading{ReceiverID: c.ReceiverID, Value: *c.Value, TS: now}
	if c.TS != "" {
		ts, err := time.Parse(time.RFC3339Nano, c.TS)
		if err != nil {
			return model.Reading{}, errors.New("invalid ts; must be RFC3339")
		}
		r.TS = ts
	}
	return r, r.Validate()
}

type contactsResponse struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
}

// ContactsHandler handles contact ingestion.
type ContactsHandler struct {
	queue ContactQueue
	now   func() time.Time
}

// NewContactsHandler creates a new contacts handler.
func NewContactsHandler(q ContactQueue) *ContactsHandler {
	return &ContactsHandler{queue: q, now: time.Now}
}

// HandlePostContacts handles POST /contacts. The body is one reading or an
// array of readings; every reading is validated before any is queued.
func (h *ContactsHandler) HandlePostContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxContactBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	var reqs []contactRequest
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &reqs)
	} else {
		var one contactRequest
		err = json.Unmarshal(trimmed, &one)
		reqs = []contactRequest{one}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	now := h.now()
	readings := make([]model.Reading, 0, len(reqs))
	for i, req := range reqs {
		rd, err := req.reading(now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: reading %d: %w", ErrBadRequest, i, err))
			return
		}
		readings = append(readings, rd)
	}

	accepted := 0
	for _, rd := range readings {
		if err := h.queue.Enqueue(r.Context(), rd); err != nil {
			if errors.Is(err, queue.ErrClosed) {
				writeError(w, http.StatusServiceUnavailable, "unavailable", ErrUnavailable)
				return
			}
			writeError(w, http.StatusTooManyRequests, "backpressure",
				fmt.Errorf("%w: accepted %d of %d", ErrBackpressure, accepted, len(readings)))
			return
		}
		accepted++
	}
	writeJSON(w, http.StatusAccepted, contactsResponse{Status: "accepted", Accepted: accepted})
}
