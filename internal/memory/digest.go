// Package memory implements the bounded per-session memory digest.
// A digest holds typed memory items, short progress breadcrumbs, and the
// sunset/sunrise handoff notes, and never grows past half of the owning
// model's context window. Digests are single-owner: the owner serializes
// access.
package memory

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/parleyhq/parley/internal/fault"
)

// ItemType classifies a memory item.
type ItemType string

const (
	TypeFact         ItemType = "fact"
	TypeDecision     ItemType = "decision"
	TypeApproach     ItemType = "approach"
	TypeError        ItemType = "error"
	TypeSuccess      ItemType = "success"
	TypeBreadcrumb   ItemType = "breadcrumb"
	TypeRelationship ItemType = "relationship"
)

// Structural caps. MaxItems and MaxBreadcrumbs bound list growth; the byte
// budget is derived per digest from the model's context limit.
const (
	MaxItems       = 100
	MaxBreadcrumbs = 20
)

// itemSeq issues process-wide monotonically increasing item ids.
var itemSeq atomic.Uint64

// Relevance tracks how useful an item has proven.
type Relevance struct {
	Score             float64
	LastAccessed      time.Time
	AccessCount       int
	CIMarkedImportant bool
}

// Item is one typed memory entry.
type Item struct {
	ID        uint64
	Type      ItemType
	Content   string
	Creator   string
	Created   time.Time
	Relevance Relevance
}

// Digest is the bounded memory store for one CI in one session.
type Digest struct {
	sessionID    string
	ciName       string
	created      time.Time
	contextLimit int
	maxAllowed   int

	items       []Item
	breadcrumbs []string

	sunsetNotes  string
	sunriseBrief string
}

// New creates a digest for the given session and CI. contextLimit is the
// model's context window in tokens-worth of bytes; the digest may use at
// most half of it.
func New(sessionID, ciName string, contextLimit int) (*Digest, error) {
	const op = "memory.New"

	if sessionID == "" {
		return nil, fault.New(fault.NullArg, op, "empty session id")
	}
	if ciName == "" {
		return nil, fault.New(fault.NullArg, op, "empty ci name")
	}
	if contextLimit <= 0 {
		return nil, fault.Errorf(fault.InvalidValue, op, "context limit %d must be positive", contextLimit)
	}

	return &Digest{
		sessionID:    sessionID,
		ciName:       ciName,
		created:      time.Now(),
		contextLimit: contextLimit,
		maxAllowed:   contextLimit / 2,
	}, nil
}

// SessionID returns the owning session id.
func (d *Digest) SessionID() string { return d.sessionID }

// CIName returns the owning CI name.
func (d *Digest) CIName() string { return d.ciName }

// Created returns the digest creation time.
func (d *Digest) Created() time.Time { return d.created }

// ContextLimit returns the configured context limit.
func (d *Digest) ContextLimit() int { return d.contextLimit }

// MaxAllowed returns the byte budget (half the context limit).
func (d *Digest) MaxAllowed() int { return d.maxAllowed }

// Size returns the current byte accounting: item contents plus the sunset
// and sunrise notes. Breadcrumbs are bounded by count, not bytes.
func (d *Digest) Size() int {
	size := len(d.sunsetNotes) + len(d.sunriseBrief)
	for i := range d.items {
		size += len(d.items[i].Content)
	}
	return size
}

// ItemCount returns the number of stored items.
func (d *Digest) ItemCount() int { return len(d.items) }

// Items returns a copy of the stored items.
func (d *Digest) Items() []Item {
	out := make([]Item, len(d.items))
	copy(out, d.items)
	return out
}

// Breadcrumbs returns a copy of the breadcrumb list.
func (d *Digest) Breadcrumbs() []string {
	out := make([]string, len(d.breadcrumbs))
	copy(out, d.breadcrumbs)
	return out
}

// SunsetNotes returns the sunset handoff notes.
func (d *Digest) SunsetNotes() string { return d.sunsetNotes }

// SunriseBrief returns the sunrise context brief.
func (d *Digest) SunriseBrief() string { return d.sunriseBrief }

// AddItem appends a typed item. The add fails without mutating the digest
// when it would exceed MaxItems or the byte budget.
func (d *Digest) AddItem(typ ItemType, content, creator string) (*Item, error) {
	const op = "memory.AddItem"

	if content == "" {
		return nil, fault.New(fault.NullArg, op, "empty content")
	}
	if len(d.items) >= MaxItems {
		return nil, fault.Errorf(fault.QueueFull, op, "digest already holds %d items", MaxItems)
	}
	if d.Size()+len(content) > d.maxAllowed {
		return nil, fault.Errorf(fault.Size, op, "adding %d bytes exceeds budget %d (current %d)",
			len(content), d.maxAllowed, d.Size())
	}

	now := time.Now()
	item := Item{
		ID:      itemSeq.Add(1),
		Type:    typ,
		Content: content,
		Creator: creator,
		Created: now,
		Relevance: Relevance{
			Score:        1.0,
			LastAccessed: now,
		},
	}
	d.items = append(d.items, item)
	return &d.items[len(d.items)-1], nil
}

// AddBreadcrumb appends a short progress marker. The 21st fails.
func (d *Digest) AddBreadcrumb(text string) error {
	const op = "memory.AddBreadcrumb"

	if text == "" {
		return fault.New(fault.NullArg, op, "empty breadcrumb")
	}
	if len(d.breadcrumbs) >= MaxBreadcrumbs {
		return fault.Errorf(fault.QueueFull, op, "digest already holds %d breadcrumbs", MaxBreadcrumbs)
	}
	d.breadcrumbs = append(d.breadcrumbs, text)
	return nil
}

// SelectItem marks an item as accessed and returns it.
func (d *Digest) SelectItem(id uint64) (*Item, error) {
	const op = "memory.SelectItem"

	for i := range d.items {
		if d.items[i].ID == id {
			d.items[i].Relevance.LastAccessed = time.Now()
			d.items[i].Relevance.AccessCount++
			return &d.items[i], nil
		}
	}
	return nil, fault.Errorf(fault.InvalidValue, op, "no item with id %d", id)
}

// SuggestByType returns up to max items of the given type, most relevant
// first.
func (d *Digest) SuggestByType(typ ItemType, max int) []Item {
	if max <= 0 {
		return nil
	}

	var matched []Item
	for i := range d.items {
		if d.items[i].Type == typ {
			matched = append(matched, d.items[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Relevance.Score > matched[j].Relevance.Score
	})
	if len(matched) > max {
		matched = matched[:max]
	}
	return matched
}

// UpdateRelevance replaces an item's score. Scores live in [0.0, 1.0].
func (d *Digest) UpdateRelevance(id uint64, score float64) error {
	const op = "memory.UpdateRelevance"

	if score < 0.0 || score > 1.0 {
		return fault.Errorf(fault.OutOfRange, op, "score %v outside [0.0, 1.0]", score)
	}
	for i := range d.items {
		if d.items[i].ID == id {
			d.items[i].Relevance.Score = score
			d.items[i].Relevance.LastAccessed = time.Now()
			return nil
		}
	}
	return fault.Errorf(fault.InvalidValue, op, "no item with id %d", id)
}

// MarkImportant flags an item so decay and suggestion treat it as pinned by
// its CI.
func (d *Digest) MarkImportant(id uint64) error {
	const op = "memory.MarkImportant"

	for i := range d.items {
		if d.items[i].ID == id {
			d.items[i].Relevance.CIMarkedImportant = true
			return nil
		}
	}
	return fault.Errorf(fault.InvalidValue, op, "no item with id %d", id)
}

// Decay multiplies every item's relevance by factor. The caller keeps
// factor within [0, 1].
func (d *Digest) Decay(factor float64) {
	for i := range d.items {
		d.items[i].Relevance.Score *= factor
	}
}

// SetSunsetNotes replaces the sunset handoff notes, subject to the byte
// budget.
func (d *Digest) SetSunsetNotes(text string) error {
	const op = "memory.SetSunsetNotes"

	if d.Size()-len(d.sunsetNotes)+len(text) > d.maxAllowed {
		return fault.Errorf(fault.Size, op, "sunset notes of %d bytes exceed budget %d", len(text), d.maxAllowed)
	}
	d.sunsetNotes = text
	return nil
}

// SetSunriseBrief replaces the sunrise context brief, subject to the byte
// budget.
func (d *Digest) SetSunriseBrief(text string) error {
	const op = "memory.SetSunriseBrief"

	if d.Size()-len(d.sunriseBrief)+len(text) > d.maxAllowed {
		return fault.Errorf(fault.Size, op, "sunrise brief of %d bytes exceeds budget %d", len(text), d.maxAllowed)
	}
	d.sunriseBrief = text
	return nil
}

// Validate re-checks the structural invariants. A healthy digest returns
// nil after every successful mutation.
func (d *Digest) Validate() error {
	const op = "memory.Validate"

	if size := d.Size(); size > d.maxAllowed {
		return fault.Errorf(fault.Size, op, "size %d exceeds budget %d", size, d.maxAllowed)
	}
	if len(d.items) > MaxItems {
		return fault.Errorf(fault.Size, op, "%d items exceed cap %d", len(d.items), MaxItems)
	}
	if len(d.breadcrumbs) > MaxBreadcrumbs {
		return fault.Errorf(fault.QueueFull, op, "%d breadcrumbs exceed cap %d", len(d.breadcrumbs), MaxBreadcrumbs)
	}
	return nil
}
