package audit

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ledgerline/warden/core/pkg/canonicalize"
)

var (
	// ErrEmptySessionID is returned when the session id is empty.
	ErrEmptySessionID = errors.New("audit: session_id must not be empty")
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrTrailNotConfigured is returned when export is invoked without a
	// backing trail.
	ErrTrailNotConfigured = errors.New("audit: trail not configured (fail-closed)")
	// ErrPackCorrupt is returned when a pack fails verification.
	ErrPackCorrupt = errors.New("audit: evidence pack corrupt")
)

// ExportRequest defines what to export.
type ExportRequest struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Manifest describes an exported pack.
type Manifest struct {
	SessionID   string    `json:"session_id"`
	GeneratedAt time.Time `json:"generated_at"`
	EventCount  int       `json:"event_count"`
	ChainHead   string    `json:"chain_head"`
	PeriodStart time.Time `json:"period_start,omitempty"`
	PeriodEnd   time.Time `json:"period_end,omitempty"`
}

// Exporter creates evidence packs from a trail.
type Exporter struct {
	trail *Trail
	clock func() time.Time
}

// NewExporter creates an exporter over the trail.
func NewExporter(t *Trail) *Exporter {
	return &Exporter{trail: t, clock: time.Now}
}

// GeneratePack creates a zip containing the session's events and a manifest,
// and returns the zip bytes plus its checksum.
func (e *Exporter) GeneratePack(req ExportRequest) ([]byte, string, error) {
	if req.SessionID == "" {
		return nil, "", ErrEmptySessionID
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.trail == nil {
		return nil, "", ErrTrailNotConfigured
	}

	filter := Filter{SessionID: req.SessionID}
	if !req.StartTime.IsZero() {
		filter.StartTime = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		filter.EndTime = &req.EndTime
	}
	events := e.trail.Query(filter)

	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := Manifest{
		SessionID:   req.SessionID,
		GeneratedAt: e.clock().UTC(),
		EventCount:  len(events),
		ChainHead:   e.trail.ChainHead(),
		PeriodStart: req.StartTime,
		PeriodEnd:   req.EndTime,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshaling manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("events.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(eventsJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Evidence pack for session %s\nGenerated at %s\nVerify with: warden verify <pack>\n",
		req.SessionID, manifest.GeneratedAt.Format(time.RFC3339))

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	return zipBytes, canonicalize.HashBytes(zipBytes), nil
}

// VerifyPack opens an exported pack, checks the manifest against the events,
// and recomputes the hash chain over the contained events.
func VerifyPack(pack []byte) (*Manifest, error) {
	r, err := zip.NewReader(bytes.NewReader(pack), int64(len(pack)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackCorrupt, err)
	}

	var events []*Event
	var manifest Manifest
	sawEvents, sawManifest := false, false
	for _, f := range r.File {
		switch f.Name {
		case "events.json":
			if err := readJSON(f, &events); err != nil {
				return nil, err
			}
			sawEvents = true
		case "manifest.json":
			if err := readJSON(f, &manifest); err != nil {
				return nil, err
			}
			sawManifest = true
		}
	}
	if !sawEvents || !sawManifest {
		return nil, fmt.Errorf("%w: missing events.json or manifest.json", ErrPackCorrupt)
	}
	if manifest.EventCount != len(events) {
		return nil, fmt.Errorf("%w: manifest counts %d events, pack holds %d",
			ErrPackCorrupt, manifest.EventCount, len(events))
	}

	for i, ev := range events {
		computed, err := eventHash(ev)
		if err != nil {
			return nil, err
		}
		if computed != ev.EventHash {
			return nil, fmt.Errorf("%w: event %d hash mismatch", ErrPackCorrupt, i)
		}
		// Filtered packs may skip interleaved events; linkage is only
		// checkable across adjacent sequence numbers.
		if i > 0 && ev.Sequence == events[i-1].Sequence+1 && ev.PreviousHash != events[i-1].EventHash {
			return nil, fmt.Errorf("%w: chain broken at event %d", ErrPackCorrupt, i)
		}
	}
	return &manifest, nil
}

func readJSON(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPackCorrupt, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPackCorrupt, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrPackCorrupt, err)
	}
	return nil
}
