package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playout-core/internal/asrun"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// rundownResponse is a rundown with its segments.
type rundownResponse struct {
	rundown.Rundown
	Segments []rundown.Segment `json:"segments"`
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// decodeRequiredBody decodes a JSON body that must be present.
func decodeRequiredBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

// bindPathID fills *field from the URL, rejecting a body value that names a
// different document.
func bindPathID(field *string, want, name string) error {
	if *field != "" && *field != want {
		return fmt.Errorf("%s %q does not match the path", name, *field)
	}
	*field = want
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func (s *Server) handleListRundowns(w http.ResponseWriter, r *http.Request) {
	rundowns, err := s.repo.ListRundowns(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rundowns": rundowns,
		"count":    len(rundowns),
	})
}

func (s *Server) handleGetRundown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rd, err := s.repo.GetRundown(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	segments, err := s.repo.ListSegments(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	rundown.SortSegments(segments)
	writeJSON(w, http.StatusOK, rundownResponse{Rundown: *rd, Segments: segments})
}

// handleListParts returns the rundown's parts in running order.
func (s *Server) handleListParts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.repo.GetRundown(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	segments, err := s.repo.ListSegments(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	parts, err := s.repo.ListParts(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	rundown.SortParts(parts, segments)
	writeJSON(w, http.StatusOK, map[string]any{
		"parts": parts,
		"count": len(parts),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListAsRun pages through the as-run log, most recent first.
// Query parameters: limit, offset, content2 (rundown|part|piece).
func (s *Server) handleListAsRun(w http.ResponseWriter, r *http.Request) {
	if s.asRun == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "as-run log not configured")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	res, err := s.asRun.List(r.Context(), asrun.Filter{
		RundownID: chi.URLParam(r, "id"),
		Content2:  r.URL.Query().Get("content2"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleActivePieces returns the pieces of a part instance that are on air
// or still to play.
func (s *Server) handleActivePieces(w http.ResponseWriter, r *http.Request) {
	pieces, err := s.engine.ResolveActiveWindow(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "piid"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pieces": pieces,
		"count":  len(pieces),
	})
}
