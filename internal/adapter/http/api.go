package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/pipeline"
	"github.com/couchcryptid/quake-feed-service/internal/state"
	"github.com/couchcryptid/quake-feed-service/internal/view"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gorilla/mux"
)

type eventsResponse struct {
	Loaded    bool           `json:"loaded"`
	UpdatedAt *time.Time     `json:"updated_at"`
	Count     int            `json:"count"`
	Events    []domain.Quake `json:"events"`
}

type refreshResponse struct {
	Outcome string         `json:"outcome"`
	Fetched bool           `json:"fetched"`
	Events  int            `json:"events"`
	Error   string         `json:"error,omitempty"`
	Status  statusResponse `json:"status"`
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	snap := s.state.Snapshot()
	resp := eventsResponse{
		Loaded: snap.Loaded,
		Count:  len(snap.Events),
		Events: snap.Events,
	}
	if !snap.UpdatedAt.IsZero() {
		resp.UpdatedAt = &snap.UpdatedAt
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSelected(w http.ResponseWriter, _ *http.Request) {
	var selected *domain.Quake
	if q, ok := s.state.Selected(); ok {
		selected = &q
	}
	sharedobs.WriteJSON(w, http.StatusOK, selected)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.state.Select(id); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("event %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	q, _ := s.state.Selected()
	sharedobs.WriteJSON(w, http.StatusOK, q)
}

func (s *Server) handleClearSelection(w http.ResponseWriter, _ *http.Request) {
	s.state.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, toStatusResponse(s.state.Status()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// An admitted fetch has already spent budget, so it outlives the request.
	ctx := context.WithoutCancel(r.Context())
	res := s.scheduler.Refresh(ctx)

	if errors.Is(res.Err, pipeline.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, res.Err.Error())
		return
	}

	resp := refreshResponse{
		Outcome: res.Decision.Outcome.String(),
		Fetched: res.Fetched,
		Events:  res.Events,
		Status:  toStatusResponse(res.Status),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}

	if !res.Decision.Allowed() {
		retryAfter(w, res.Status)
		sharedobs.WriteJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	st := s.scheduler.ResetLimit(r.Context())
	sharedobs.WriteJSON(w, http.StatusOK, toStatusResponse(st))
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	p, err := parseViewParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, view.Compute(s.state.Events(), p))
}

func parseViewParams(r *http.Request) (view.Params, error) {
	q := r.URL.Query()
	p := view.DefaultParams()

	if v := q.Get("min_mag"); v != "" {
		f, err := parseFinite(v)
		if err != nil {
			return view.Params{}, fmt.Errorf("invalid min_mag %q", v)
		}
		p.MinMagnitude = f
	}
	if v := q.Get("height"); v != "" {
		f, err := view.ParseField(v)
		if err != nil {
			return view.Params{}, fmt.Errorf("height: %w", err)
		}
		p.HeightField = f
	}
	if v := q.Get("color"); v != "" {
		f, err := view.ParseField(v)
		if err != nil {
			return view.Params{}, fmt.Errorf("color: %w", err)
		}
		p.ColorField = f
	}

	lo, hi := q.Get("domain_min"), q.Get("domain_max")
	switch {
	case lo == "" && hi == "":
	case lo == "" || hi == "":
		return view.Params{}, errors.New("domain_min and domain_max must be given together")
	default:
		minV, errMin := parseFinite(lo)
		maxV, errMax := parseFinite(hi)
		if errMin != nil || errMax != nil {
			return view.Params{}, fmt.Errorf("invalid colour domain [%s, %s]", lo, hi)
		}
		if maxV <= minV {
			return view.Params{}, errors.New("domain_max must exceed domain_min")
		}
		p.ColorDomain = &view.Domain{Min: minV, Max: maxV}
	}

	return p, nil
}

// parseFinite rejects NaN and the infinities, which strconv accepts.
func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not a finite number")
	}
	return f, nil
}
