package asrun

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent is returned when an event lacks its studio, rundown or content.
var ErrInvalidEvent = errors.New("asrun: invalid event")

// namespace scopes the name-based event ids.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:playout-core:asrun"))

// Event is one as-run log entry.
type Event struct {
	ID              string    `json:"id"`
	StudioID        string    `json:"studio_id"`
	RundownID       string    `json:"rundown_id"`
	SegmentID       string    `json:"segment_id,omitempty"`
	PartInstanceID  string    `json:"part_instance_id,omitempty"`
	PieceInstanceID string    `json:"piece_instance_id,omitempty"`
	Content         string    `json:"content"`  // startedPlayback, stoppedPlayback
	Content2        string    `json:"content2"` // rundown, part, piece
	Rehearsal       bool      `json:"rehearsal"`
	Timestamp       int64     `json:"timestamp"` // Unix milliseconds
	CreatedAt       time.Time `json:"created_at"`
}

// EventID derives the id of an event from everything except ID and CreatedAt.
func EventID(ev Event) string {
	body, _ := json.Marshal(struct { //nolint:errchkjson // plain strings and numbers always marshal
		StudioID        string `json:"s"`
		RundownID       string `json:"r"`
		SegmentID       string `json:"sg"`
		PartInstanceID  string `json:"pi"`
		PieceInstanceID string `json:"pc"`
		Content         string `json:"c"`
		Content2        string `json:"c2"`
		Rehearsal       bool   `json:"rh"`
		Timestamp       int64  `json:"t"`
	}{ev.StudioID, ev.RundownID, ev.SegmentID, ev.PartInstanceID, ev.PieceInstanceID, ev.Content, ev.Content2, ev.Rehearsal, ev.Timestamp})
	return uuid.NewSHA1(namespace, body).String()
}

func (ev *Event) validate() error {
	switch {
	case ev.StudioID == "":
		return fmt.Errorf("%w: studio_id is required", ErrInvalidEvent)
	case ev.RundownID == "":
		return fmt.Errorf("%w: rundown_id is required", ErrInvalidEvent)
	case ev.Content == "" || ev.Content2 == "":
		return fmt.Errorf("%w: content and content2 are required", ErrInvalidEvent)
	}
	return nil
}

// Filter controls which events List returns.
type Filter struct {
	RundownID string // required
	Content2  string // optional: rundown, part or piece
	Limit     int    // default 50, max 500
	Offset    int
}

// ListResult is a page of events, most recent first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}
