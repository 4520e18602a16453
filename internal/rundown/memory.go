package rundown

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository is an in-process Repository. Documents are deep-copied on
// the way in and out so callers never share state with the store.
type MemoryRepository struct {
	mu             sync.RWMutex
	rundowns       map[string]Rundown
	segments       map[string]Segment
	parts          map[string]Part
	pieces         map[string]Piece
	adlibs         map[string]AdLibPiece
	partInstances  map[string]PartInstance
	pieceInstances map[string]PieceInstance
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rundowns:       make(map[string]Rundown),
		segments:       make(map[string]Segment),
		parts:          make(map[string]Part),
		pieces:         make(map[string]Piece),
		adlibs:         make(map[string]AdLibPiece),
		partInstances:  make(map[string]PartInstance),
		pieceInstances: make(map[string]PieceInstance),
	}
}

func deepCopy[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("rundown: copying %T: %v", v, err))
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("rundown: copying %T: %v", v, err))
	}
	return out
}

func getFrom[T any](mu *sync.RWMutex, m map[string]T, id string) (*T, error) {
	mu.RLock()
	defer mu.RUnlock()
	v, ok := m[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := deepCopy(v)
	return &out, nil
}

func collect[T any](mu *sync.RWMutex, m map[string]T, keep func(T) bool, less func(a, b T) bool) []T {
	mu.RLock()
	defer mu.RUnlock()
	var out []T
	for _, v := range m {
		if keep(v) {
			out = append(out, deepCopy(v))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// GetRundown retrieves a rundown by id.
func (m *MemoryRepository) GetRundown(_ context.Context, id string) (*Rundown, error) {
	return getFrom(&m.mu, m.rundowns, id)
}

// ListRundowns returns every rundown ordered by id.
func (m *MemoryRepository) ListRundowns(_ context.Context) ([]Rundown, error) {
	return collect(&m.mu, m.rundowns, func(Rundown) bool { return true },
		func(a, b Rundown) bool { return a.ID < b.ID }), nil
}

// SaveRundown upserts a rundown.
func (m *MemoryRepository) SaveRundown(_ context.Context, r *Rundown) error {
	if r.ID == "" || r.StudioID == "" {
		return ErrInvalidDocument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rundowns[r.ID] = deepCopy(*r)
	return nil
}

// DeleteRundown removes a rundown and everything that belongs to it.
func (m *MemoryRepository) DeleteRundown(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rundowns, id)
	for k, v := range m.segments {
		if v.RundownID == id {
			delete(m.segments, k)
		}
	}
	for k, v := range m.parts {
		if v.RundownID == id {
			delete(m.parts, k)
		}
	}
	for k, v := range m.pieces {
		if v.RundownID == id {
			delete(m.pieces, k)
		}
	}
	for k, v := range m.adlibs {
		if v.RundownID == id {
			delete(m.adlibs, k)
		}
	}
	for k, v := range m.partInstances {
		if v.RundownID == id {
			delete(m.partInstances, k)
		}
	}
	for k, v := range m.pieceInstances {
		if v.RundownID == id {
			delete(m.pieceInstances, k)
		}
	}
	return nil
}

// ListSegments returns the segments of a rundown ordered by rank.
func (m *MemoryRepository) ListSegments(_ context.Context, rundownID string) ([]Segment, error) {
	out := collect(&m.mu, m.segments, func(s Segment) bool { return s.RundownID == rundownID },
		func(a, b Segment) bool { return a.ID < b.ID })
	SortSegments(out)
	return out, nil
}

// SaveSegment upserts a segment.
func (m *MemoryRepository) SaveSegment(_ context.Context, s *Segment) error {
	if err := validateKeys(s.ID, s.RundownID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[s.ID] = deepCopy(*s)
	return nil
}

// DeleteSegment removes a segment.
func (m *MemoryRepository) DeleteSegment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.segments, id)
	return nil
}

// GetPart retrieves a part by id.
func (m *MemoryRepository) GetPart(_ context.Context, id string) (*Part, error) {
	return getFrom(&m.mu, m.parts, id)
}

// ListParts returns the parts of a rundown ordered by rank.
func (m *MemoryRepository) ListParts(_ context.Context, rundownID string) ([]Part, error) {
	return collect(&m.mu, m.parts, func(p Part) bool { return p.RundownID == rundownID },
		func(a, b Part) bool {
			if a.Rank != b.Rank {
				return a.Rank < b.Rank
			}
			return a.ID < b.ID
		}), nil
}

// SavePart upserts a part.
func (m *MemoryRepository) SavePart(_ context.Context, p *Part) error {
	if err := validateKeys(p.ID, p.RundownID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parts[p.ID] = deepCopy(*p)
	return nil
}

// DeletePart removes a part and its template pieces.
func (m *MemoryRepository) DeletePart(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parts, id)
	for k, v := range m.pieces {
		if v.PartID == id {
			delete(m.pieces, k)
		}
	}
	return nil
}

// GetPiece retrieves a template piece by id.
func (m *MemoryRepository) GetPiece(_ context.Context, id string) (*Piece, error) {
	return getFrom(&m.mu, m.pieces, id)
}

// ListPieces returns template pieces of a rundown, optionally limited to parts.
func (m *MemoryRepository) ListPieces(_ context.Context, rundownID string, partIDs ...string) ([]Piece, error) {
	want := make(map[string]bool, len(partIDs))
	for _, id := range partIDs {
		want[id] = true
	}
	return collect(&m.mu, m.pieces, func(p Piece) bool {
		return p.RundownID == rundownID && (len(want) == 0 || want[p.PartID])
	}, func(a, b Piece) bool { return a.ID < b.ID }), nil
}

// SavePiece upserts a template piece.
func (m *MemoryRepository) SavePiece(_ context.Context, p *Piece) error {
	if err := validateKeys(p.ID, p.RundownID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pieces[p.ID] = deepCopy(*p)
	return nil
}

// DeletePiece removes a template piece.
func (m *MemoryRepository) DeletePiece(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pieces, id)
	return nil
}

// GetAdLibPiece retrieves an ad-lib by id.
func (m *MemoryRepository) GetAdLibPiece(_ context.Context, id string) (*AdLibPiece, error) {
	return getFrom(&m.mu, m.adlibs, id)
}

// ListAdLibPieces returns the ad-libs of a rundown ordered by rank.
func (m *MemoryRepository) ListAdLibPieces(_ context.Context, rundownID string) ([]AdLibPiece, error) {
	return collect(&m.mu, m.adlibs, func(a AdLibPiece) bool { return a.RundownID == rundownID },
		func(a, b AdLibPiece) bool {
			if a.Rank != b.Rank {
				return a.Rank < b.Rank
			}
			return a.ID < b.ID
		}), nil
}

// SaveAdLibPiece upserts an ad-lib.
func (m *MemoryRepository) SaveAdLibPiece(_ context.Context, a *AdLibPiece) error {
	if err := validateKeys(a.ID, a.RundownID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adlibs[a.ID] = deepCopy(*a)
	return nil
}

// DeleteAdLibPiece removes an ad-lib.
func (m *MemoryRepository) DeleteAdLibPiece(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adlibs, id)
	return nil
}

// GetPartInstance retrieves a part instance by id.
func (m *MemoryRepository) GetPartInstance(_ context.Context, id string) (*PartInstance, error) {
	return getFrom(&m.mu, m.partInstances, id)
}

// ListPartInstances returns the part instances of a rundown ordered by take count.
func (m *MemoryRepository) ListPartInstances(_ context.Context, rundownID string, includeReset bool) ([]PartInstance, error) {
	return collect(&m.mu, m.partInstances, func(pi PartInstance) bool {
		return pi.RundownID == rundownID && (includeReset || !pi.Reset)
	}, func(a, b PartInstance) bool {
		if a.TakeCount != b.TakeCount {
			return a.TakeCount < b.TakeCount
		}
		return a.ID < b.ID
	}), nil
}

// SavePartInstance upserts a part instance. Temporary instances are rejected.
func (m *MemoryRepository) SavePartInstance(_ context.Context, pi *PartInstance) error {
	if pi.Temporary {
		return fmt.Errorf("%w: temporary part instance %s", ErrInvalidDocument, pi.ID)
	}
	if err := validateKeys(pi.ID, pi.RundownID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partInstances[pi.ID] = deepCopy(*pi)
	return nil
}

// DeletePartInstance removes a part instance and its piece instances.
func (m *MemoryRepository) DeletePartInstance(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partInstances, id)
	for k, v := range m.pieceInstances {
		if v.PartInstanceID == id {
			delete(m.pieceInstances, k)
		}
	}
	return nil
}

// GetPieceInstance retrieves a piece instance by id.
func (m *MemoryRepository) GetPieceInstance(_ context.Context, id string) (*PieceInstance, error) {
	return getFrom(&m.mu, m.pieceInstances, id)
}

// ListPieceInstances returns the piece instances of the given part instances.
func (m *MemoryRepository) ListPieceInstances(_ context.Context, partInstanceIDs ...string) ([]PieceInstance, error) {
	if len(partInstanceIDs) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(partInstanceIDs))
	for _, id := range partInstanceIDs {
		want[id] = true
	}
	return collect(&m.mu, m.pieceInstances, func(pi PieceInstance) bool { return want[pi.PartInstanceID] },
		func(a, b PieceInstance) bool { return a.ID < b.ID }), nil
}

// SavePieceInstance upserts a piece instance.
func (m *MemoryRepository) SavePieceInstance(_ context.Context, pi *PieceInstance) error {
	if err := validateKeys(pi.ID, pi.RundownID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pieceInstances[pi.ID] = deepCopy(*pi)
	return nil
}

// DeletePieceInstance removes a piece instance.
func (m *MemoryRepository) DeletePieceInstance(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pieceInstances, id)
	return nil
}

// Compile-time interface checks.
var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*SQLiteRepository)(nil)
)
