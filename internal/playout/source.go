package playout

import (
	"context"

	"github.com/nerrad567/playout-core/internal/rundown"
)

// pieceSource reads and writes the pieces of one part instance. Temporary
// instances are backed by the part's template pieces, persisted instances by
// their stored piece instances. Propagation, ordering and ad-lib code use
// it so they never need to know which kind of instance they hold.
type pieceSource interface {
	list(ctx context.Context, pi rundown.PartInstance) ([]rundown.PieceInstance, error)
	save(ctx context.Context, p *rundown.PieceInstance) error
	remove(ctx context.Context, p rundown.PieceInstance) error

	// wrap places piece into pi. ref is the instance id of the piece being
	// continued, used when the source stores instances.
	wrap(piece rundown.Piece, pi rundown.PartInstance, ref string) rundown.PieceInstance
}

func (e *Engine) sourceFor(pi rundown.PartInstance) pieceSource {
	if pi.Temporary {
		return templateSource{repo: e.repo}
	}
	return instanceSource{repo: e.repo}
}

// piecesOf lists the pieces of pi through its source.
func (e *Engine) piecesOf(ctx context.Context, pi rundown.PartInstance) ([]rundown.PieceInstance, error) {
	return e.sourceFor(pi).list(ctx, pi)
}

type templateSource struct {
	repo rundown.Repository
}

func (s templateSource) list(ctx context.Context, pi rundown.PartInstance) ([]rundown.PieceInstance, error) {
	pieces, err := s.repo.ListPieces(ctx, pi.RundownID, pi.Part.ID)
	if err != nil {
		return nil, storeErr(err, "listing pieces of part %q", pi.Part.ID)
	}
	return rundown.ResolveOrWrapPieces(pi, nil, pieces), nil
}

func (s templateSource) save(ctx context.Context, p *rundown.PieceInstance) error {
	piece := rundown.UnwrapPieceInstance(*p)
	if err := s.repo.SavePiece(ctx, &piece); err != nil {
		return storeErr(err, "saving piece %q", piece.ID)
	}
	return nil
}

func (s templateSource) remove(ctx context.Context, p rundown.PieceInstance) error {
	if err := s.repo.DeletePiece(ctx, p.Piece.ID); err != nil {
		return storeErr(err, "removing piece %q", p.Piece.ID)
	}
	return nil
}

func (templateSource) wrap(piece rundown.Piece, pi rundown.PartInstance, _ string) rundown.PieceInstance {
	return rundown.WrapPieceToInstance(piece, pi.ID)
}

type instanceSource struct {
	repo rundown.Repository
}

func (s instanceSource) list(ctx context.Context, pi rundown.PartInstance) ([]rundown.PieceInstance, error) {
	stored, err := s.repo.ListPieceInstances(ctx, pi.ID)
	if err != nil {
		return nil, storeErr(err, "listing piece instances of %q", pi.ID)
	}
	return rundown.ResolveOrWrapPieces(pi, stored, nil), nil
}

func (s instanceSource) save(ctx context.Context, p *rundown.PieceInstance) error {
	if err := s.repo.SavePieceInstance(ctx, p); err != nil {
		return storeErr(err, "saving piece instance %q", p.ID)
	}
	return nil
}

func (s instanceSource) remove(ctx context.Context, p rundown.PieceInstance) error {
	if err := s.repo.DeletePieceInstance(ctx, p.ID); err != nil {
		return storeErr(err, "removing piece instance %q", p.ID)
	}
	return nil
}

func (instanceSource) wrap(piece rundown.Piece, pi rundown.PartInstance, ref string) rundown.PieceInstance {
	out := rundown.WrapPieceToInstance(piece, pi.ID)
	if ref != "" {
		out.ContinuesRefID = ref
	}
	return out
}
