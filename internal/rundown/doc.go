// Package rundown holds the playout data model and its persistence.
//
// Templates (Segment, Part, Piece, AdLibPiece) are written by ingest and never
// touched by playback. Instances (PartInstance, PieceInstance) are one live
// playthrough of a template and embed a value copy of it, so template edits
// made mid-show do not reach an instance that is already on air.
//
//	Rundown ──▶ Segment ──▶ Part ──▶ Piece
//	   │                     ▲         ▲
//	   │ pointers            │ copy    │ copy
//	   ▼                     │         │
//	PartInstance ────────────┘ ──▶ PieceInstance
//
// A part with no instance yet can be wrapped as a temporary instance
// (WrapPartAsTemporary). Temporary instances are never persisted and let the
// engine treat played and unplayed parts the same way.
//
// # Storage
//
// Repository is implemented by SQLiteRepository (JSON documents plus indexed
// key columns, see migrations/) and MemoryRepository (tests and tooling).
package rundown
