package rundown

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/playout-core/internal/infrastructure/database"
	"github.com/nerrad567/playout-core/internal/timeline"
	_ "github.com/nerrad567/playout-core/migrations" // registers the schema
)

// setupSQLite opens an in-memory database with the real migrations applied.
func setupSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

// repositories returns every implementation so each test runs against both.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	return map[string]Repository{
		"sqlite": setupSQLite(t),
		"memory": NewMemoryRepository(),
	}
}

func TestRepository_RundownRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			rd := &Rundown{ID: "r1", StudioID: "studio0", Name: "Evening News", Active: true, HoldState: HoldStatePending}
			if err := repo.SaveRundown(ctx, rd); err != nil {
				t.Fatalf("SaveRundown: %v", err)
			}
			got, err := repo.GetRundown(ctx, "r1")
			if err != nil {
				t.Fatalf("GetRundown: %v", err)
			}
			if got.Name != "Evening News" || !got.Active || got.HoldState != HoldStatePending {
				t.Errorf("GetRundown = %+v", got)
			}

			rd.Name = "Late News"
			if err := repo.SaveRundown(ctx, rd); err != nil {
				t.Fatalf("SaveRundown (update): %v", err)
			}
			list, err := repo.ListRundowns(ctx)
			if err != nil || len(list) != 1 || list[0].Name != "Late News" {
				t.Errorf("ListRundowns = %+v, %v", list, err)
			}

			if _, err := repo.GetRundown(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetRundown(missing) error = %v, want ErrNotFound", err)
			}
			if err := repo.SaveRundown(ctx, &Rundown{ID: "x"}); !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("SaveRundown(no studio) error = %v, want ErrInvalidDocument", err)
			}
		})
	}
}

func TestRepository_TemplatesAndInstances(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			must := func(err error) {
				t.Helper()
				if err != nil {
					t.Fatal(err)
				}
			}
			must(repo.SaveRundown(ctx, &Rundown{ID: "r1", StudioID: "studio0"}))
			must(repo.SaveSegment(ctx, &Segment{ID: "s2", RundownID: "r1", Rank: 2}))
			must(repo.SaveSegment(ctx, &Segment{ID: "s1", RundownID: "r1", Rank: 1}))
			must(repo.SavePart(ctx, &Part{ID: "p1", RundownID: "r1", SegmentID: "s1", Rank: 1}))
			must(repo.SavePart(ctx, &Part{ID: "p2", RundownID: "r1", SegmentID: "s2", Rank: 0}))
			must(repo.SavePiece(ctx, &Piece{
				ID: "bg", RundownID: "r1", PartID: "p1", SourceLayerID: "studio",
				Enable: timeline.Enable{Start: timeline.At(0)}, Lifespan: LifespanInfinite,
			}))
			must(repo.SavePiece(ctx, &Piece{ID: "cam", RundownID: "r1", PartID: "p2", SourceLayerID: "cam"}))
			must(repo.SaveAdLibPiece(ctx, &AdLibPiece{ID: "gfx", RundownID: "r1", Name: "Strap"}))

			segs, err := repo.ListSegments(ctx, "r1")
			must(err)
			if len(segs) != 2 || segs[0].ID != "s1" {
				t.Errorf("ListSegments = %+v", segs)
			}

			pieces, err := repo.ListPieces(ctx, "r1", "p1")
			must(err)
			if len(pieces) != 1 || pieces[0].ID != "bg" || !pieces[0].Enable.Start.IsZero() {
				t.Errorf("ListPieces(p1) = %+v", pieces)
			}
			all, err := repo.ListPieces(ctx, "r1")
			must(err)
			if len(all) != 2 {
				t.Errorf("ListPieces(all) = %d, want 2", len(all))
			}

			adlib, err := repo.GetAdLibPiece(ctx, "gfx")
			must(err)
			if adlib.Name != "Strap" {
				t.Errorf("GetAdLibPiece = %+v", adlib)
			}

			inst := &PartInstance{ID: "pi1", RundownID: "r1", SegmentID: "s1", TakeCount: 1, Part: Part{ID: "p1"}}
			must(repo.SavePartInstance(ctx, inst))
			must(repo.SavePieceInstance(ctx, &PieceInstance{
				ID: "pi1_bg", RundownID: "r1", PartInstanceID: "pi1", Piece: pieces[0],
			}))

			tmp := WrapPartAsTemporary(Part{ID: "p2", RundownID: "r1"})
			if err := repo.SavePartInstance(ctx, &tmp); !errors.Is(err, ErrInvalidDocument) {
				t.Errorf("SavePartInstance(temporary) error = %v, want ErrInvalidDocument", err)
			}

			inst.Reset = true
			must(repo.SavePartInstance(ctx, inst))
			live, err := repo.ListPartInstances(ctx, "r1", false)
			must(err)
			if len(live) != 0 {
				t.Errorf("ListPartInstances(live) = %d, want 0", len(live))
			}
			withReset, err := repo.ListPartInstances(ctx, "r1", true)
			must(err)
			if len(withReset) != 1 {
				t.Errorf("ListPartInstances(all) = %d, want 1", len(withReset))
			}

			pis, err := repo.ListPieceInstances(ctx, "pi1")
			must(err)
			if len(pis) != 1 || pis[0].Piece.Lifespan != LifespanInfinite {
				t.Errorf("ListPieceInstances = %+v", pis)
			}

			must(repo.DeletePartInstance(ctx, "pi1"))
			if _, err := repo.GetPieceInstance(ctx, "pi1_bg"); !errors.Is(err, ErrNotFound) {
				t.Errorf("piece instance survived part instance delete: %v", err)
			}

			must(repo.DeletePart(ctx, "p1"))
			if _, err := repo.GetPiece(ctx, "bg"); !errors.Is(err, ErrNotFound) {
				t.Errorf("piece survived part delete: %v", err)
			}

			must(repo.DeleteRundown(ctx, "r1"))
			parts, err := repo.ListParts(ctx, "r1")
			must(err)
			if len(parts) != 0 {
				t.Errorf("parts survived rundown delete: %d", len(parts))
			}
		})
	}
}
