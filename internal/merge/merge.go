// Package merge runs conflict-resolution negotiations between CIs. A
// negotiation collects conflicts from a branch pair, gathers resolution
// proposals with confidence values, and resolves each conflict by
// accepting its highest-confidence proposal.
package merge

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/log"
)

// Confidence bounds. Out-of-range values clamp; unrepresentable values
// (NaN, infinities) coerce to the midpoint.
const (
	MinConfidence     = 0
	MaxConfidence     = 100
	DefaultConfidence = 50
)

// Conflict is one contested region of a file.
type Conflict struct {
	File      string
	LineStart int
	LineEnd   int
	ContentA  string
	ContentB  string

	// Resolution is the accepted proposal index, -1 while unresolved.
	Resolution int
}

// Resolved reports whether a proposal has been accepted.
func (c Conflict) Resolved() bool { return c.Resolution >= 0 }

// UnifiedDiff renders the two conflicting contents as an inline diff for
// review display.
func (c Conflict) UnifiedDiff() string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(c.ContentA, c.ContentB, false)
	dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString("-" + d.Text)
		case diffmatchpatch.DiffInsert:
			b.WriteString("+" + d.Text)
		case diffmatchpatch.DiffEqual:
			b.WriteString(" " + d.Text)
		}
	}
	return b.String()
}

// Proposal is one CI's suggested resolution for one conflict.
type Proposal struct {
	CI         string
	Conflict   int
	Content    string
	Confidence float64
	At         time.Time
}

// Negotiation is one merge session over a branch pair.
type Negotiation struct {
	sessionID string
	branchA   string
	branchB   string
	conflicts []Conflict
	proposals []Proposal
	startedAt time.Time
	completed time.Time
}

// NewNegotiation opens a negotiation for the two branches.
func NewNegotiation(branchA, branchB string) (*Negotiation, error) {
	const op = "merge.NewNegotiation"

	if branchA == "" || branchB == "" {
		return nil, fault.New(fault.NullArg, op, "both branch names are required")
	}
	return &Negotiation{
		sessionID: uuid.New().String(),
		branchA:   branchA,
		branchB:   branchB,
		startedAt: time.Now(),
	}, nil
}

// SessionID returns the negotiation's id.
func (n *Negotiation) SessionID() string { return n.sessionID }

// Branches returns the contested branch pair.
func (n *Negotiation) Branches() (string, string) { return n.branchA, n.branchB }

// ConflictCount returns how many conflicts have been added.
func (n *Negotiation) ConflictCount() int { return len(n.conflicts) }

// ProposalCount returns how many proposals have been collected.
func (n *Negotiation) ProposalCount() int { return len(n.proposals) }

// StartedAt returns when the negotiation opened.
func (n *Negotiation) StartedAt() time.Time { return n.startedAt }

// CompletedAt returns when the negotiation closed, zero while open.
func (n *Negotiation) CompletedAt() time.Time { return n.completed }

// AddConflict records a contested region and returns its index.
func (n *Negotiation) AddConflict(file string, lineStart, lineEnd int, contentA, contentB string) (int, error) {
	const op = "merge.AddConflict"

	if file == "" {
		return 0, fault.New(fault.NullArg, op, "empty file")
	}
	if lineStart < 0 || lineEnd < lineStart {
		return 0, fault.Errorf(fault.InvalidValue, op, "bad line range %d-%d", lineStart, lineEnd)
	}
	n.conflicts = append(n.conflicts, Conflict{
		File:       file,
		LineStart:  lineStart,
		LineEnd:    lineEnd,
		ContentA:   contentA,
		ContentB:   contentB,
		Resolution: -1,
	})
	return len(n.conflicts) - 1, nil
}

// Conflict returns a copy of the conflict at index.
func (n *Negotiation) Conflict(idx int) (Conflict, error) {
	const op = "merge.Conflict"

	if idx < 0 || idx >= len(n.conflicts) {
		return Conflict{}, fault.Errorf(fault.OutOfRange, op, "conflict index %d of %d", idx, len(n.conflicts))
	}
	return n.conflicts[idx], nil
}

// Conflicts returns a copy of all conflicts.
func (n *Negotiation) Conflicts() []Conflict {
	out := make([]Conflict, len(n.conflicts))
	copy(out, n.conflicts)
	return out
}

// ProposeResolution records a CI's proposal for a conflict. Confidence is
// clamped to [0,100]; NaN and infinities coerce to 50.
func (n *Negotiation) ProposeResolution(ci string, conflictIdx int, content string, confidence float64) (int, error) {
	const op = "merge.ProposeResolution"

	if ci == "" {
		return 0, fault.New(fault.NullArg, op, "empty CI name")
	}
	if conflictIdx < 0 || conflictIdx >= len(n.conflicts) {
		return 0, fault.Errorf(fault.OutOfRange, op, "conflict index %d of %d", conflictIdx, len(n.conflicts))
	}
	n.proposals = append(n.proposals, Proposal{
		CI:         ci,
		Conflict:   conflictIdx,
		Content:    content,
		Confidence: normalizeConfidence(confidence),
		At:         time.Now(),
	})
	return len(n.proposals) - 1, nil
}

// normalizeConfidence clamps into [MinConfidence, MaxConfidence].
func normalizeConfidence(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return DefaultConfidence
	}
	return math.Min(MaxConfidence, math.Max(MinConfidence, v))
}

// SelectBestProposal accepts the highest-confidence proposal for the
// conflict and returns its index. Ties keep the earliest proposal. Having
// no proposal for the conflict is a ci-invalid error.
func (n *Negotiation) SelectBestProposal(conflictIdx int) (int, error) {
	const op = "merge.SelectBestProposal"

	if conflictIdx < 0 || conflictIdx >= len(n.conflicts) {
		return 0, fault.Errorf(fault.OutOfRange, op, "conflict index %d of %d", conflictIdx, len(n.conflicts))
	}

	best := -1
	for i, p := range n.proposals {
		if p.Conflict != conflictIdx {
			continue
		}
		if best < 0 || p.Confidence > n.proposals[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return 0, fault.Errorf(fault.CIInvalid, op, "no proposals for conflict %d", conflictIdx)
	}
	n.conflicts[conflictIdx].Resolution = best
	log.Debug(log.CatMerge, "Proposal accepted", "conflict", conflictIdx,
		"ci", n.proposals[best].CI, "confidence", n.proposals[best].Confidence)
	return best, nil
}

// ResolveAll selects the best proposal for every unresolved conflict.
// Conflicts without proposals are left open and reported in the error.
func (n *Negotiation) ResolveAll() error {
	var firstErr error
	for i := range n.conflicts {
		if n.conflicts[i].Resolved() {
			continue
		}
		if _, err := n.SelectBestProposal(i); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Proposal returns a copy of the proposal at index.
func (n *Negotiation) Proposal(idx int) (Proposal, error) {
	const op = "merge.Proposal"

	if idx < 0 || idx >= len(n.proposals) {
		return Proposal{}, fault.Errorf(fault.OutOfRange, op, "proposal index %d of %d", idx, len(n.proposals))
	}
	return n.proposals[idx], nil
}

// ResolvedCount returns how many conflicts carry an accepted resolution.
func (n *Negotiation) ResolvedCount() int {
	count := 0
	for _, c := range n.conflicts {
		if c.Resolved() {
			count++
		}
	}
	return count
}

// IsComplete reports whether every conflict has a resolution.
func (n *Negotiation) IsComplete() bool {
	return n.ResolvedCount() == len(n.conflicts)
}

// Finalize closes a complete negotiation, stamping the completion time.
func (n *Negotiation) Finalize() error {
	const op = "merge.Finalize"

	if !n.IsComplete() {
		return fault.Errorf(fault.CIInvalid, op, "%d of %d conflicts unresolved",
			len(n.conflicts)-n.ResolvedCount(), len(n.conflicts))
	}
	n.completed = time.Now()
	return nil
}

// conflictJSON is the review wire shape for one conflict.
type conflictJSON struct {
	File      string `json:"file"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	ContentA  string `json:"content_a"`
	ContentB  string `json:"content_b"`
}

// negotiationJSON is the review wire shape for the whole negotiation.
type negotiationJSON struct {
	SessionID     string         `json:"session_id"`
	BranchA       string         `json:"branch_a"`
	BranchB       string         `json:"branch_b"`
	ConflictCount int            `json:"conflict_count"`
	ProposalCount int            `json:"proposal_count"`
	ResolvedCount int            `json:"resolved_count"`
	Complete      bool           `json:"complete"`
	Conflicts     []conflictJSON `json:"conflicts"`
}

// ConflictJSON serializes one conflict in the review shape.
func (n *Negotiation) ConflictJSON(idx int) ([]byte, error) {
	c, err := n.Conflict(idx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(conflictJSON{
		File:      c.File,
		LineStart: c.LineStart,
		LineEnd:   c.LineEnd,
		ContentA:  c.ContentA,
		ContentB:  c.ContentB,
	})
}

// ToJSON serializes the negotiation for status reporting.
func (n *Negotiation) ToJSON() ([]byte, error) {
	const op = "merge.ToJSON"

	out := negotiationJSON{
		SessionID:     n.sessionID,
		BranchA:       n.branchA,
		BranchB:       n.branchB,
		ConflictCount: len(n.conflicts),
		ProposalCount: len(n.proposals),
		ResolvedCount: n.ResolvedCount(),
		Complete:      n.IsComplete(),
		Conflicts:     make([]conflictJSON, 0, len(n.conflicts)),
	}
	for _, c := range n.conflicts {
		out.Conflicts = append(out.Conflicts, conflictJSON{
			File:      c.File,
			LineStart: c.LineStart,
			LineEnd:   c.LineEnd,
			ContentA:  c.ContentA,
			ContentB:  c.ContentB,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fault.Wrap(fault.Format, op, err)
	}
	return data, nil
}
