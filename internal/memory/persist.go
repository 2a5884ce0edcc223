package memory

import (
	"encoding/json"
	"os"
	"time"

	"github.com/parleyhq/parley/internal/fault"
)

// Snapshot is the serialized view of a digest: the fields another process
// (or the next session) can observe. Item contents stay private to the
// owning session; only the count travels.
type Snapshot struct {
	SessionID   string   `json:"session_id"`
	CIName      string   `json:"ci_name"`
	Created     int64    `json:"created"`
	ItemCount   int      `json:"item_count"`
	Breadcrumbs []string `json:"breadcrumbs"`
	Sunset      string   `json:"sunset_notes,omitempty"`
	Sunrise     string   `json:"sunrise_brief,omitempty"`
}

// Snapshot captures the digest's observable fields.
func (d *Digest) Snapshot() Snapshot {
	crumbs := make([]string, len(d.breadcrumbs))
	copy(crumbs, d.breadcrumbs)
	return Snapshot{
		SessionID:   d.sessionID,
		CIName:      d.ciName,
		Created:     d.created.Unix(),
		ItemCount:   len(d.items),
		Breadcrumbs: crumbs,
		Sunset:      d.sunsetNotes,
		Sunrise:     d.sunriseBrief,
	}
}

// ToJSON serializes the digest's snapshot. The breadcrumb array is always
// present, even when empty.
func (d *Digest) ToJSON() ([]byte, error) {
	const op = "memory.ToJSON"

	data, err := json.Marshal(d.Snapshot())
	if err != nil {
		return nil, fault.Wrap(fault.Format, op, err)
	}
	return data, nil
}

// FromJSON parses a serialized digest snapshot.
func FromJSON(data []byte) (Snapshot, error) {
	const op = "memory.FromJSON"

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fault.Wrap(fault.Format, op, err)
	}
	if snap.Breadcrumbs == nil {
		snap.Breadcrumbs = []string{}
	}
	return snap, nil
}

// SaveFile writes the digest snapshot to path.
func (d *Digest) SaveFile(path string) error {
	const op = "memory.SaveFile"

	data, err := d.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fault.Wrap(fault.File, op, err)
	}
	return nil
}

// LoadFile reads a digest snapshot from path.
func LoadFile(path string) (Snapshot, error) {
	const op = "memory.LoadFile"

	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fault.Wrap(fault.File, op, err)
	}
	return FromJSON(data)
}

// Resume builds a fresh digest for a new session, carrying the previous
// session's sunset notes forward as this session's sunrise brief.
func Resume(snap Snapshot, sessionID string, contextLimit int) (*Digest, error) {
	d, err := New(sessionID, snap.CIName, contextLimit)
	if err != nil {
		return nil, err
	}
	if snap.Sunset != "" {
		if err := d.SetSunriseBrief(snap.Sunset); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// CreatedTime converts the snapshot's unix timestamp back to time.Time.
func (s Snapshot) CreatedTime() time.Time { return time.Unix(s.Created, 0) }
