package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Callback types sent by the playout gateway.
const (
	PartPlaybackStarted  = "partPlaybackStarted"
	PartPlaybackStopped  = "partPlaybackStopped"
	PiecePlaybackStarted = "piecePlaybackStarted"
	PiecePlaybackStopped = "piecePlaybackStopped"
)

// ErrInvalidCallback is returned for callbacks that cannot be dispatched.
var ErrInvalidCallback = errors.New("gateway: invalid callback")

// Callback is a playback report from the playout gateway.
type Callback struct {
	Type            string `json:"type"`
	RundownID       string `json:"rundown_id"`
	PartInstanceID  string `json:"part_instance_id,omitempty"`
	PieceInstanceID string `json:"piece_instance_id,omitempty"`
	Timestamp       int64  `json:"timestamp"` // Unix milliseconds; 0 means now
}

// PlaybackHandler receives playback callbacks. *playout.Engine implements it.
type PlaybackHandler interface {
	OnPartPlaybackStarted(ctx context.Context, rundownID, partInstanceID string, ts int64) error
	OnPartPlaybackStopped(ctx context.Context, rundownID, partInstanceID string, ts int64) error
	OnPiecePlaybackStarted(ctx context.Context, rundownID, pieceInstanceID string, ts int64) error
	OnPiecePlaybackStopped(ctx context.Context, rundownID, pieceInstanceID string, ts int64) error
}

// ParseCallback decodes and validates a callback payload.
func ParseCallback(payload []byte) (Callback, error) {
	var cb Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return Callback{}, fmt.Errorf("%w: %w", ErrInvalidCallback, err)
	}
	if err := cb.Validate(); err != nil {
		return Callback{}, err
	}
	return cb, nil
}

// Validate checks that the callback names a known type and carries the id
// that type needs.
func (cb Callback) Validate() error {
	if cb.RundownID == "" {
		return fmt.Errorf("%w: rundown_id is required", ErrInvalidCallback)
	}
	switch cb.Type {
	case PartPlaybackStarted, PartPlaybackStopped:
		if cb.PartInstanceID == "" {
			return fmt.Errorf("%w: %s needs part_instance_id", ErrInvalidCallback, cb.Type)
		}
	case PiecePlaybackStarted, PiecePlaybackStopped:
		if cb.PieceInstanceID == "" {
			return fmt.Errorf("%w: %s needs piece_instance_id", ErrInvalidCallback, cb.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCallback, cb.Type)
	}
	return nil
}

// Dispatch validates cb and calls the matching handler method. A zero
// timestamp is replaced with now (Unix milliseconds).
func Dispatch(ctx context.Context, h PlaybackHandler, cb Callback, now int64) error {
	if err := cb.Validate(); err != nil {
		return err
	}
	ts := cb.Timestamp
	if ts == 0 {
		ts = now
	}
	switch cb.Type {
	case PartPlaybackStarted:
		return h.OnPartPlaybackStarted(ctx, cb.RundownID, cb.PartInstanceID, ts)
	case PartPlaybackStopped:
		return h.OnPartPlaybackStopped(ctx, cb.RundownID, cb.PartInstanceID, ts)
	case PiecePlaybackStarted:
		return h.OnPiecePlaybackStarted(ctx, cb.RundownID, cb.PieceInstanceID, ts)
	default:
		return h.OnPiecePlaybackStopped(ctx, cb.RundownID, cb.PieceInstanceID, ts)
	}
}
