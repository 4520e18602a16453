package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playout-core/internal/gateway"
)

type activateRequest struct {
	Rehearsal bool `json:"rehearsal"`
}

type resetRequest struct {
	Activate  bool `json:"activate"`
	Rehearsal bool `json:"rehearsal"`
}

type setNextRequest struct {
	PartID     string `json:"part_id"`
	Manual     *bool  `json:"manual,omitempty"` // defaults to true
	TimeOffset *int64 `json:"time_offset,omitempty"`
}

type moveNextRequest struct {
	Horizontal int  `json:"horizontal"`
	Vertical   int  `json:"vertical"`
	Manual     bool `json:"manual"`
}

type startAdLibRequest struct {
	PartInstanceID string `json:"part_instance_id"`
	Queue          bool   `json:"queue"`
}

// respondSnapshot answers a playout action with the rundown's new state.
func (s *Server) respondSnapshot(w http.ResponseWriter, r *http.Request, rundownID string) {
	snap, err := s.engine.Snapshot(r.Context(), rundownID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.engine.Activate(r.Context(), id, req.Rehearsal); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Deactivate(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

// handleReset resets the rundown, activating it afterwards when asked to.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	id := chi.URLParam(r, "id")
	var err error
	if req.Activate {
		err = s.engine.ResetAndActivate(r.Context(), id, req.Rehearsal)
	} else {
		err = s.engine.Reset(r.Context(), id)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) handleTake(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Take(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) handleSetNext(w http.ResponseWriter, r *http.Request) {
	var req setNextRequest
	if err := decodeRequiredBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.PartID == "" {
		writeBadRequest(w, "part_id is required")
		return
	}
	manual := true
	if req.Manual != nil {
		manual = *req.Manual
	}
	id := chi.URLParam(r, "id")
	if err := s.engine.SetNext(r.Context(), id, req.PartID, manual, req.TimeOffset); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) handleMoveNext(w http.ResponseWriter, r *http.Request) {
	var req moveNextRequest
	if err := decodeRequiredBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	partID, err := s.engine.MoveNext(r.Context(), chi.URLParam(r, "id"), req.Horizontal, req.Vertical, req.Manual)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"part_id": partID})
}

func (s *Server) handleActivateHold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.ActivateHold(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) handleDeactivateHold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.DeactivateHold(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) handleStartAdLib(w http.ResponseWriter, r *http.Request) {
	var req startAdLibRequest
	if err := decodeRequiredBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.PartInstanceID == "" {
		writeBadRequest(w, "part_instance_id is required")
		return
	}
	pieceInstanceID, err := s.engine.StartAdLib(r.Context(), chi.URLParam(r, "id"), req.PartInstanceID, chi.URLParam(r, "adlibId"), req.Queue)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"piece_instance_id": pieceInstanceID})
}

func (s *Server) handlePieceTakeNow(w http.ResponseWriter, r *http.Request) {
	pieceInstanceID, err := s.engine.PieceTakeNow(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "piid"), chi.URLParam(r, "pieceId"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"piece_instance_id": pieceInstanceID})
}

func (s *Server) handleStopAdLibPiece(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.StopAdLibPiece(r.Context(), id, chi.URLParam(r, "piid"), chi.URLParam(r, "pieceId")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.respondSnapshot(w, r, id)
}

func (s *Server) handleStopLayer(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.StopPiecesOnLayer(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "piid"), chi.URLParam(r, "layer"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stopped": n})
}

// handleCallback accepts playback callbacks from gateways that cannot use
// MQTT. The body has the same shape as the MQTT callback message.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var cb gateway.Callback
	if err := decodeRequiredBody(r, &cb); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := bindPathID(&cb.RundownID, chi.URLParam(r, "id"), "rundown_id"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := gateway.Dispatch(r.Context(), s.engine, cb, s.now()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
