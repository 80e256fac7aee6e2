package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/cadence/internal/serverdb"
)

// maxEventsPerRequest bounds one exchange; clients chunk well below it.
const maxEventsPerRequest = 1000

// SyncRequest is the body for POST /v1/sync. Events are stored verbatim,
// so the server only reads the fields it needs for ordering.
type SyncRequest struct {
	Since  *string           `json:"since"`
	Events []json.RawMessage `json:"events"`
}

// SyncResponse carries every event received after Since.
type SyncResponse struct {
	Events     []json.RawMessage `json:"events"`
	ServerTime string            `json:"serverTime"`
	Accepted   int               `json:"accepted"`
	Ignored    int               `json:"ignored"`
	Rejected   int               `json:"rejected,omitempty"`
}

// eventHeader is the part of an event payload the server interprets.
type eventHeader struct {
	SyncID    string `json:"syncId"`
	UpdatedAt string `json:"updatedAt"`
}

func decodeRecord(raw json.RawMessage) (serverdb.Record, error) {
	var h eventHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return serverdb.Record{}, err
	}
	if h.SyncID == "" {
		return serverdb.Record{}, errors.New("missing syncId")
	}
	v, err := time.Parse(time.RFC3339Nano, h.UpdatedAt)
	if err != nil {
		return serverdb.Record{}, fmt.Errorf("updatedAt: %w", err)
	}
	return serverdb.Record{SyncID: h.SyncID, Version: v.UTC(), Payload: raw}, nil
}

// handleSync stores the pushed events newest-wins and answers with every
// event received after since.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	log := logFor(r.Context())

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if len(req.Events) > maxEventsPerRequest {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest,
			fmt.Sprintf("too many events: %d (max %d)", len(req.Events), maxEventsPerRequest))
		return
	}

	var since *time.Time
	if req.Since != nil && *req.Since != "" {
		t, err := time.Parse(time.RFC3339Nano, *req.Since)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid since timestamp")
			return
		}
		t = t.UTC()
		since = &t
	}

	records := make([]serverdb.Record, 0, len(req.Events))
	rejected := 0
	for _, raw := range req.Events {
		rec, err := decodeRecord(raw)
		if err != nil {
			log.Debug("sync: rejecting event", "err", err)
			rejected++
			continue
		}
		records = append(records, rec)
	}

	res, err := s.store.Exchange(r.Context(), records, since)
	if err != nil {
		log.Error("sync exchange", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store events")
		return
	}

	resp := SyncResponse{
		Events:     make([]json.RawMessage, 0, len(res.Changed)),
		ServerTime: res.ServerTime.UTC().Format(time.RFC3339Nano),
		Accepted:   res.Accepted,
		Ignored:    res.Ignored,
		Rejected:   rejected,
	}
	for _, c := range res.Changed {
		resp.Events = append(resp.Events, c.Payload)
	}
	s.metrics.RecordSync(res.Accepted, res.Ignored, len(resp.Events))

	log.Info("sync", "pushed", len(req.Events), "accepted", res.Accepted, "returned", len(resp.Events))
	writeJSON(w, http.StatusOK, resp)
}
