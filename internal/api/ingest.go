package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playout-core/internal/rundown"
)

type replaceSegmentRequest struct {
	Segment rundown.Segment `json:"segment"`
	Parts   []rundown.Part  `json:"parts"`
	Pieces  []rundown.Piece `json:"pieces"`
}

func (s *Server) handlePutRundown(w http.ResponseWriter, r *http.Request) {
	var rd rundown.Rundown
	if err := decodeRequiredBody(r, &rd); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := bindPathID(&rd.ID, chi.URLParam(r, "id"), "id"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.engine.SaveRundown(r.Context(), &rd); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) handleDeleteRundown(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveRundown(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutSegment(w http.ResponseWriter, r *http.Request) {
	var seg rundown.Segment
	if err := decodeRequiredBody(r, &seg); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.bindIDs(w, &seg.RundownID, &seg.ID, r, "sid") {
		return
	}
	if err := s.engine.SaveSegment(r.Context(), &seg); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveSegment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sid")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReplaceSegment swaps a segment's parts and pieces in one operation.
func (s *Server) handleReplaceSegment(w http.ResponseWriter, r *http.Request) {
	var req replaceSegmentRequest
	if err := decodeRequiredBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.bindIDs(w, &req.Segment.RundownID, &req.Segment.ID, r, "sid") {
		return
	}
	if err := s.engine.ReplaceSegment(r.Context(), &req.Segment, req.Parts, req.Pieces); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segment": req.Segment,
		"parts":   len(req.Parts),
		"pieces":  len(req.Pieces),
	})
}

func (s *Server) handlePutPart(w http.ResponseWriter, r *http.Request) {
	var p rundown.Part
	if err := decodeRequiredBody(r, &p); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.bindIDs(w, &p.RundownID, &p.ID, r, "pid") {
		return
	}
	if err := s.engine.SavePart(r.Context(), &p); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemovePart(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutPiece(w http.ResponseWriter, r *http.Request) {
	var p rundown.Piece
	if err := decodeRequiredBody(r, &p); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.bindIDs(w, &p.RundownID, &p.ID, r, "pid") {
		return
	}
	if err := s.engine.SavePiece(r.Context(), &p); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePiece(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemovePiece(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pid")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutAdLib(w http.ResponseWriter, r *http.Request) {
	var a rundown.AdLibPiece
	if err := decodeRequiredBody(r, &a); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.bindIDs(w, &a.RundownID, &a.ID, r, "aid") {
		return
	}
	if err := s.engine.SaveAdLibPiece(r.Context(), &a); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAdLib(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveAdLibPiece(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "aid")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bindIDs fills the rundown and document ids from the URL, writing a 400
// and returning false when the body disagrees.
func (s *Server) bindIDs(w http.ResponseWriter, rundownID, docID *string, r *http.Request, param string) bool {
	if err := bindPathID(rundownID, chi.URLParam(r, "id"), "rundown_id"); err != nil {
		writeBadRequest(w, err.Error())
		return false
	}
	if err := bindPathID(docID, chi.URLParam(r, param), "id"); err != nil {
		writeBadRequest(w, err.Error())
		return false
	}
	return true
}
