package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskdeck/taskgraph/pkg/errors"
	"github.com/taskdeck/taskgraph/pkg/graph"
	"github.com/taskdeck/taskgraph/pkg/layout"
	"github.com/taskdeck/taskgraph/pkg/store"
)

type createDependencyRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type updatePositionRequest struct {
	// Pos null clears the position, returning the task to the pool.
	Pos *graph.Point `json:"pos"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleListDependencies(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListDependencies(r.Context(), chi.URLParam(r, "scopeID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []store.DependencyRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleCreateDependency(w http.ResponseWriter, r *http.Request) {
	var req createDependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode request"))
		return
	}
	scopeID := chi.URLParam(r, "scopeID")
	edgeID, err := s.store.CreateDependency(r.Context(), scopeID, req.From, req.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, store.DependencyRecord{EdgeID: edgeID, From: req.From, To: req.To})
}

func (s *Server) handleDeleteDependency(w http.ResponseWriter, r *http.Request) {
	scopeID := chi.URLParam(r, "scopeID")
	edgeID := chi.URLParam(r, "edgeID")
	if err := s.store.DeleteDependency(r.Context(), scopeID, edgeID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListPositions(r.Context(), chi.URLParam(r, "scopeID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []store.PositionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleUpdatePosition(w http.ResponseWriter, r *http.Request) {
	var req updatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode request"))
		return
	}
	scopeID := chi.URLParam(r, "scopeID")
	taskID := chi.URLParam(r, "taskID")
	if err := s.store.UpdateTaskPosition(r.Context(), scopeID, taskID, req.Pos); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type layoutRequest struct {
	Direction   string  `json:"direction,omitempty"`
	NodeSpacing float64 `json:"node_spacing,omitempty"`
	RankSpacing float64 `json:"rank_spacing,omitempty"`
}

type layoutResponse struct {
	Positions map[string]graph.Point `json:"positions"`
}

// handleTriggerLayout lays out the scope server-side and persists the
// result: the node set is every task appearing in the scope's edges or
// positions. Request fields override the server's layout defaults; an
// empty body uses them as-is.
func (s *Server) handleTriggerLayout(w http.ResponseWriter, r *http.Request) {
	var req layoutRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode request"))
			return
		}
	}
	cfg := s.layout
	if req.Direction != "" {
		cfg.Direction = req.Direction
	}
	if req.NodeSpacing != 0 {
		cfg.NodeSpacing = req.NodeSpacing
	}
	if req.RankSpacing != 0 {
		cfg.RankSpacing = req.RankSpacing
	}

	scopeID := chi.URLParam(r, "scopeID")
	ctx := r.Context()
	deps, err := s.store.ListDependencies(ctx, scopeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	positions, err := s.store.ListPositions(ctx, scopeID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	snap, err := scopeSnapshot(deps, positions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := layout.Compute(snap, cfg)
	if err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "layout scope %s", scopeID))
		return
	}

	for id, p := range res.Positions {
		pos := p
		if err := s.store.UpdateTaskPosition(ctx, scopeID, id, &pos); err != nil {
			s.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, layoutResponse{Positions: res.Positions})
}

// scopeSnapshot reconstructs a graph snapshot from persisted records.
func scopeSnapshot(deps []store.DependencyRecord, positions []store.PositionRecord) (graph.Snapshot, error) {
	g := graph.NewStore()
	for _, d := range deps {
		for _, id := range []string{d.From, d.To} {
			if _, ok := g.Task(id); !ok {
				if err := g.UpsertTask(graph.Task{ID: id}); err != nil {
					return graph.Snapshot{}, errors.Wrap(errors.ErrCodeInternal, err, "rebuild scope")
				}
			}
		}
		if err := g.AddDependency(graph.Dependency{ID: d.EdgeID, From: d.From, To: d.To}); err != nil {
			return graph.Snapshot{}, errors.Wrap(errors.ErrCodeInternal, err, "rebuild scope edge %s", d.EdgeID)
		}
	}
	for _, p := range positions {
		if _, ok := g.Task(p.TaskID); !ok {
			if err := g.UpsertTask(graph.Task{ID: p.TaskID}); err != nil {
				return graph.Snapshot{}, errors.Wrap(errors.ErrCodeInternal, err, "rebuild scope")
			}
		}
		if err := g.SetPosition(p.TaskID, p.Pos); err != nil {
			return graph.Snapshot{}, errors.Wrap(errors.ErrCodeInternal, err, "rebuild scope")
		}
	}
	return g.Snapshot(), nil
}

// writeError maps store error codes onto HTTP statuses. Validation
// rejections are conflicts the client is expected to handle by rolling
// back, not server faults.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeSelfDependency, errors.ErrCodeDuplicateEdge, errors.ErrCodeCycleRejected, errors.ErrCodeStaleEntity:
		status = http.StatusConflict
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodePersistence, errors.ErrCodeTimeout:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		s.logger.Error("request failed", "code", code, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Code: string(code), Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
