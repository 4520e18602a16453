package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAsRun = "asrun"
	MeasurementTake  = "take"
)

// AsRunPoint is one as-run event mirrored to the time series store.
type AsRunPoint struct {
	StudioID        string
	RundownID       string
	PartInstanceID  string
	PieceInstanceID string
	Content         string // startedPlayback, stoppedPlayback
	Scope           string // rundown, part, piece
	Rehearsal       bool
	Timestamp       time.Time
}

// WriteAsRun records an as-run event. Ids are fields, not tags, so instance
// churn does not grow series cardinality. The write is non-blocking.
func (c *Client) WriteAsRun(p AsRunPoint) {
	fields := map[string]any{
		"count": 1,
	}
	if p.PartInstanceID != "" {
		fields["part_instance_id"] = p.PartInstanceID
	}
	if p.PieceInstanceID != "" {
		fields["piece_instance_id"] = p.PieceInstanceID
	}

	c.write(write.NewPoint(
		MeasurementAsRun,
		map[string]string{
			"studio_id":  p.StudioID,
			"rundown_id": p.RundownID,
			"content":    p.Content,
			"scope":      p.Scope,
			"rehearsal":  boolTag(p.Rehearsal),
		},
		fields,
		p.Timestamp,
	))
}

// WriteTake records how long a take took from request to committed pointers.
func (c *Client) WriteTake(studioID, rundownID, partID string, latency time.Duration, at time.Time) {
	c.write(write.NewPoint(
		MeasurementTake,
		map[string]string{
			"studio_id":  studioID,
			"rundown_id": rundownID,
		},
		map[string]any{
			"latency_ms": latency.Milliseconds(),
			"part_id":    partID,
		},
		at,
	))
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
