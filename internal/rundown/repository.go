package rundown

import (
	"context"
	"errors"
	"sort"
)

// Domain errors for the rundown package.
var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("rundown: not found")

	// ErrInvalidDocument is returned when a document is missing required keys.
	ErrInvalidDocument = errors.New("rundown: invalid document")
)

// Repository is the document store the playout engine runs against.
// Save methods upsert by id. Deletes of missing ids are not errors.
type Repository interface {
	// Rundowns
	GetRundown(ctx context.Context, id string) (*Rundown, error)
	ListRundowns(ctx context.Context) ([]Rundown, error)
	SaveRundown(ctx context.Context, r *Rundown) error
	DeleteRundown(ctx context.Context, id string) error

	// Templates
	ListSegments(ctx context.Context, rundownID string) ([]Segment, error)
	SaveSegment(ctx context.Context, s *Segment) error
	DeleteSegment(ctx context.Context, id string) error

	GetPart(ctx context.Context, id string) (*Part, error)
	ListParts(ctx context.Context, rundownID string) ([]Part, error)
	SavePart(ctx context.Context, p *Part) error
	DeletePart(ctx context.Context, id string) error

	GetPiece(ctx context.Context, id string) (*Piece, error)
	ListPieces(ctx context.Context, rundownID string, partIDs ...string) ([]Piece, error)
	SavePiece(ctx context.Context, p *Piece) error
	DeletePiece(ctx context.Context, id string) error

	GetAdLibPiece(ctx context.Context, id string) (*AdLibPiece, error)
	ListAdLibPieces(ctx context.Context, rundownID string) ([]AdLibPiece, error)
	SaveAdLibPiece(ctx context.Context, a *AdLibPiece) error
	DeleteAdLibPiece(ctx context.Context, id string) error

	// Instances
	GetPartInstance(ctx context.Context, id string) (*PartInstance, error)
	ListPartInstances(ctx context.Context, rundownID string, includeReset bool) ([]PartInstance, error)
	SavePartInstance(ctx context.Context, pi *PartInstance) error
	DeletePartInstance(ctx context.Context, id string) error

	GetPieceInstance(ctx context.Context, id string) (*PieceInstance, error)
	ListPieceInstances(ctx context.Context, partInstanceIDs ...string) ([]PieceInstance, error)
	SavePieceInstance(ctx context.Context, pi *PieceInstance) error
	DeletePieceInstance(ctx context.Context, id string) error
}

// SortSegments orders segments by rank, then id.
func SortSegments(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].Rank != segments[j].Rank {
			return segments[i].Rank < segments[j].Rank
		}
		return segments[i].ID < segments[j].ID
	})
}

// SortParts orders parts by segment rank, then part rank. Parts whose segment
// is unknown sort last.
func SortParts(parts []Part, segments []Segment) {
	segRank := make(map[string]int, len(segments))
	ordered := append([]Segment(nil), segments...)
	SortSegments(ordered)
	for i, s := range ordered {
		segRank[s.ID] = i
	}
	rankOf := func(p Part) int {
		if r, ok := segRank[p.SegmentID]; ok {
			return r
		}
		return len(ordered)
	}
	sort.SliceStable(parts, func(i, j int) bool {
		ri, rj := rankOf(parts[i]), rankOf(parts[j])
		if ri != rj {
			return ri < rj
		}
		if parts[i].Rank != parts[j].Rank {
			return parts[i].Rank < parts[j].Rank
		}
		return parts[i].ID < parts[j].ID
	})
}

func validateKeys(id, rundownID string) error {
	if id == "" || rundownID == "" {
		return ErrInvalidDocument
	}
	return nil
}
