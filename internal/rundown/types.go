package rundown

import (
	"encoding/json"

	"github.com/nerrad567/playout-core/internal/timeline"
)

// PieceLifespan controls how far a piece persists beyond its own part.
type PieceLifespan string

// Lifespan values.
const (
	LifespanNormal           PieceLifespan = "normal"
	LifespanOutOnNextPart    PieceLifespan = "out-on-next-part"
	LifespanOutOnNextSegment PieceLifespan = "out-on-next-segment"
	LifespanInfinite         PieceLifespan = "infinite"
)

// IsInfinite reports whether pieces with this lifespan may outlive their part.
func (l PieceLifespan) IsInfinite() bool {
	return l == LifespanOutOnNextPart || l == LifespanOutOnNextSegment || l == LifespanInfinite
}

// HoldMode describes a part's role in a hold.
type HoldMode string

// Hold modes.
const (
	HoldModeNone HoldMode = "none"
	HoldModeFrom HoldMode = "from"
	HoldModeTo   HoldMode = "to"
)

// HoldState is the rundown-level hold progression.
type HoldState int

// Hold states, in the order a hold moves through them.
const (
	HoldStateNone HoldState = iota
	HoldStatePending
	HoldStateActive
	HoldStateComplete
)

// String returns the lower-case state name.
func (h HoldState) String() string {
	switch h {
	case HoldStatePending:
		return "pending"
	case HoldStateActive:
		return "active"
	case HoldStateComplete:
		return "complete"
	default:
		return "none"
	}
}

// Rundown is the top-level running order and holds the playout pointers.
type Rundown struct {
	ID         string `json:"id"`
	StudioID   string `json:"studio_id"`
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`

	Active    bool `json:"active"`
	Rehearsal bool `json:"rehearsal,omitempty"`

	PreviousPartInstanceID string    `json:"previous_part_instance_id,omitempty"`
	CurrentPartInstanceID  string    `json:"current_part_instance_id,omitempty"`
	NextPartInstanceID     string    `json:"next_part_instance_id,omitempty"`
	NextPartManual         bool      `json:"next_part_manual,omitempty"`
	NextTimeOffset         *int64    `json:"next_time_offset,omitempty"`
	HoldState              HoldState `json:"hold_state"`

	StartedPlayback *int64 `json:"started_playback,omitempty"`
	Modified        int64  `json:"modified"`
}

// Segment groups parts within a rundown.
type Segment struct {
	ID         string  `json:"id"`
	RundownID  string  `json:"rundown_id"`
	ExternalID string  `json:"external_id,omitempty"`
	Name       string  `json:"name"`
	Rank       float64 `json:"rank"`
}

// Part is a template step of a rundown. Playback never mutates it.
type Part struct {
	ID         string  `json:"id"`
	RundownID  string  `json:"rundown_id"`
	SegmentID  string  `json:"segment_id"`
	ExternalID string  `json:"external_id,omitempty"`
	Title      string  `json:"title"`
	Rank       float64 `json:"rank"`

	ExpectedDuration     int64    `json:"expected_duration,omitempty"`
	AutoNext             bool     `json:"auto_next,omitempty"`
	AutoNextOverlap      int64    `json:"auto_next_overlap,omitempty"`
	TransitionDuration   int64    `json:"transition_duration,omitempty"`
	DisableOutTransition bool     `json:"disable_out_transition,omitempty"`
	HoldMode             HoldMode `json:"hold_mode,omitempty"`
	Invalid              bool     `json:"invalid,omitempty"`

	// ShouldNotifyCurrentPlayingPart asks for an external notification once
	// the part is on air.
	ShouldNotifyCurrentPlayingPart bool `json:"should_notify_current_playing_part,omitempty"`

	// DynamicallyInserted parts are created by queued ad-libs and removed on reset.
	DynamicallyInserted bool   `json:"dynamically_inserted,omitempty"`
	AfterPart           string `json:"after_part,omitempty"`
}

// IsPlayable reports whether the part can be set as next.
func (p Part) IsPlayable() bool { return !p.Invalid }

// UserDuration is an operator override of a piece's length.
type UserDuration struct {
	Duration *int64             `json:"duration,omitempty"`
	End      timeline.Expression `json:"end,omitempty"`
}

// Piece is a renderable element scheduled within a part.
type Piece struct {
	ID            string `json:"id"`
	RundownID     string `json:"rundown_id"`
	PartID        string `json:"part_id"`
	ExternalID    string `json:"external_id,omitempty"`
	Name          string `json:"name"`
	SourceLayerID string `json:"source_layer_id"`
	OutputLayerID string `json:"output_layer_id,omitempty"`

	Enable   timeline.Enable `json:"enable"`
	Lifespan PieceLifespan   `json:"lifespan"`

	ExtendOnHold bool `json:"extend_on_hold,omitempty"`
	Overflows    bool `json:"overflows,omitempty"`
	IsTransition bool `json:"is_transition,omitempty"`
	Virtual      bool `json:"virtual,omitempty"`

	// InfiniteID identifies the infinite chain; equal to ID only on the chain head.
	InfiniteID string `json:"infinite_id,omitempty"`

	// Original* keep the chain markers while a hold rewrites them.
	OriginalLifespan   PieceLifespan `json:"original_lifespan,omitempty"`
	OriginalInfiniteID string        `json:"original_infinite_id,omitempty"`

	// HoldExtension marks the clone placed on the next part during a hold.
	HoldExtension bool `json:"hold_extension,omitempty"`

	// ContinuesRefID and DynamicallyInserted are set on template continuations
	// written by infinite propagation for parts that have no instance yet.
	ContinuesRefID      string `json:"continues_ref_id,omitempty"`
	DynamicallyInserted bool   `json:"dynamically_inserted,omitempty"`

	PrerollDuration int64  `json:"preroll_duration,omitempty"`
	PlayoutDuration *int64 `json:"playout_duration,omitempty"`

	Content json.RawMessage `json:"content,omitempty"`
}

// IsChainHead reports whether the piece starts its own infinite chain.
func (p Piece) IsChainHead() bool { return p.InfiniteID != "" && p.InfiniteID == p.ID }

// AdLibPiece is a template that operators insert at runtime.
type AdLibPiece struct {
	ID               string          `json:"id"`
	RundownID        string          `json:"rundown_id"`
	PartID           string          `json:"part_id,omitempty"`
	Name             string          `json:"name"`
	Rank             float64         `json:"rank"`
	SourceLayerID    string          `json:"source_layer_id"`
	OutputLayerID    string          `json:"output_layer_id,omitempty"`
	ExpectedDuration int64           `json:"expected_duration,omitempty"`
	Lifespan         PieceLifespan   `json:"lifespan"`
	PrerollDuration  int64           `json:"preroll_duration,omitempty"`
	Invalid          bool            `json:"invalid,omitempty"`
	Content          json.RawMessage `json:"content,omitempty"`
}

// PartTimings are stamped once each by the matching lifecycle event.
type PartTimings struct {
	Next            *int64 `json:"next,omitempty"`
	Take            *int64 `json:"take,omitempty"`
	TakeDone        *int64 `json:"take_done,omitempty"`
	TakeOut         *int64 `json:"take_out,omitempty"`
	StartedPlayback *int64 `json:"started_playback,omitempty"`
	StoppedPlayback *int64 `json:"stopped_playback,omitempty"`
	PlayOffset      *int64 `json:"play_offset,omitempty"`
	Duration        *int64 `json:"duration,omitempty"`
}

// PartInstance is one live playthrough of a Part. Part is a value copy taken
// when the instance was created; later template edits do not reach it.
type PartInstance struct {
	ID        string `json:"id"`
	RundownID string `json:"rundown_id"`
	SegmentID string `json:"segment_id"`
	TakeCount int    `json:"take_count"`

	Part    Part        `json:"part"`
	Timings PartTimings `json:"timings"`

	PreviousPartEndState json.RawMessage `json:"previous_part_end_state,omitempty"`

	// Temporary instances wrap a template and are never persisted.
	Temporary bool `json:"-"`
	Reset     bool `json:"reset,omitempty"`
}

// IsTaken reports whether the instance has been placed on air.
func (pi PartInstance) IsTaken() bool { return pi.Timings.Take != nil }

// IsPlaying reports whether playback started and has not stopped.
func (pi PartInstance) IsPlaying() bool {
	return pi.Timings.StartedPlayback != nil && pi.Timings.StoppedPlayback == nil
}

// PieceTimings are stamped by playback callbacks.
type PieceTimings struct {
	StartedPlayback *int64 `json:"started_playback,omitempty"`
	StoppedPlayback *int64 `json:"stopped_playback,omitempty"`
}

// PieceInstance is one live playthrough of a Piece, owned by a PartInstance.
type PieceInstance struct {
	ID             string `json:"id"`
	RundownID      string `json:"rundown_id"`
	PartInstanceID string `json:"part_instance_id"`

	Piece   Piece        `json:"piece"`
	Timings PieceTimings `json:"timings"`

	UserDuration        *UserDuration `json:"user_duration,omitempty"`
	AdLibSourceID       string        `json:"adlib_source_id,omitempty"`
	DynamicallyInserted bool          `json:"dynamically_inserted,omitempty"`
	ContinuesRefID      string        `json:"continues_ref_id,omitempty"`
	Disabled            bool          `json:"disabled,omitempty"`
	Hidden              bool          `json:"hidden,omitempty"`
	Reset               bool          `json:"reset,omitempty"`
}

// IsPlaying reports whether the piece started and has not stopped.
func (pi PieceInstance) IsPlaying() bool {
	return pi.Timings.StartedPlayback != nil && pi.Timings.StoppedPlayback == nil
}

// HasExplicitEnd reports whether anything bounds the piece in time.
func (pi PieceInstance) HasExplicitEnd() bool {
	return pi.Piece.Enable.HasEnd() || pi.UserDuration != nil || pi.Piece.PlayoutDuration != nil
}
