package rundown

import "strings"

const (
	// temporaryInstanceSuffix is appended to a part id to form its temporary instance id.
	temporaryInstanceSuffix = "_tmp_instance"

	holdSuffix = "_hold"
)

// TemporaryInstanceID returns the id used for a part's temporary instance.
func TemporaryInstanceID(partID string) string {
	return partID + temporaryInstanceSuffix
}

// PieceInstanceID returns the deterministic instance id for a template piece
// placed into a part instance.
func PieceInstanceID(partInstanceID, pieceID string) string {
	return partInstanceID + "_" + pieceID
}

// ContinuationPieceID returns the id of the template continuation of an
// infinite chain on a part.
func ContinuationPieceID(infiniteID, partID string) string {
	return infiniteID + "_" + partID
}

// WrapPartAsTemporary returns a non-persisted instance of part for dry-run
// calculations. The part is copied by value.
func WrapPartAsTemporary(part Part) PartInstance {
	return PartInstance{
		ID:        TemporaryInstanceID(part.ID),
		RundownID: part.RundownID,
		SegmentID: part.SegmentID,
		Part:      part,
		Temporary: true,
	}
}

// ResolveOrWrapPart returns the live instance of part among candidates, or
// a temporary wrapper when none exists. Reset instances are ignored and the
// instance with the highest take count wins.
func ResolveOrWrapPart(candidates []PartInstance, part Part) PartInstance {
	var found *PartInstance
	for i := range candidates {
		c := &candidates[i]
		if c.Part.ID != part.ID || c.Reset {
			continue
		}
		if found == nil || c.TakeCount > found.TakeCount {
			found = c
		}
	}
	if found != nil {
		return *found
	}
	return WrapPartAsTemporary(part)
}

// WrapPieceToInstance places a copy of piece into a part instance. Template
// continuation markers are carried onto the instance.
func WrapPieceToInstance(piece Piece, partInstanceID string) PieceInstance {
	return PieceInstance{
		ID:                  PieceInstanceID(partInstanceID, piece.ID),
		RundownID:           piece.RundownID,
		PartInstanceID:      partInstanceID,
		Piece:               piece,
		ContinuesRefID:      piece.ContinuesRefID,
		DynamicallyInserted: piece.DynamicallyInserted,
	}
}

// UnwrapPieceInstance reverses WrapPieceToInstance, folding instance-level
// continuation markers back onto the template.
func UnwrapPieceInstance(pi PieceInstance) Piece {
	p := pi.Piece
	p.ContinuesRefID = pi.ContinuesRefID
	p.DynamicallyInserted = pi.DynamicallyInserted
	return p
}

// ResolveOrWrapPieces returns the stored instances for a persisted part
// instance, or wraps every template piece for a temporary one.
func ResolveOrWrapPieces(partInstance PartInstance, existing []PieceInstance, pieces []Piece) []PieceInstance {
	if !partInstance.Temporary {
		out := make([]PieceInstance, 0, len(existing))
		for _, pi := range existing {
			if pi.PartInstanceID == partInstance.ID && !pi.Reset {
				out = append(out, pi)
			}
		}
		return out
	}
	out := make([]PieceInstance, 0, len(pieces))
	for _, p := range pieces {
		if p.PartID == partInstance.Part.ID {
			out = append(out, WrapPieceToInstance(p, partInstance.ID))
		}
	}
	return out
}

// IsHoldExtensionID reports whether id names a hold extension clone.
func IsHoldExtensionID(id string) bool {
	return strings.HasSuffix(id, holdSuffix) && len(id) > len(holdSuffix)
}

// HoldExtensionID returns the id of the hold clone of a piece.
func HoldExtensionID(pieceID string) string { return pieceID + holdSuffix }

// StartsAtZero reports whether the piece is enabled from the very start of its part.
func StartsAtZero(p Piece) bool {
	return p.Enable.Start.IsZero()
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Clone returns a deep-enough copy of pi so that pointer fields are not
// shared with the original.
func (pi PieceInstance) Clone() PieceInstance {
	out := pi
	if pi.UserDuration != nil {
		ud := *pi.UserDuration
		if ud.Duration != nil {
			ud.Duration = Int64(*ud.Duration)
		}
		out.UserDuration = &ud
	}
	if pi.Timings.StartedPlayback != nil {
		out.Timings.StartedPlayback = Int64(*pi.Timings.StartedPlayback)
	}
	if pi.Timings.StoppedPlayback != nil {
		out.Timings.StoppedPlayback = Int64(*pi.Timings.StoppedPlayback)
	}
	if pi.Piece.PlayoutDuration != nil {
		out.Piece.PlayoutDuration = Int64(*pi.Piece.PlayoutDuration)
	}
	return out
}
