// Package stall implements the loop-safety counters that pause a run when a
// node keeps producing identical turns.
package stall

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/weftlab/loom/pkg/events"
)

// DefaultThreshold pauses after three consecutive identical values
// (two repeats of the first observation).
const DefaultThreshold = 2

// Evidence kinds reported in run.stalled events.
const (
	KindOutputRepeat       = "output-repeat"
	KindDiffRepeat         = "diff-repeat"
	KindVerificationRepeat = "verification-repeat"
)

// Counters tracks per-node repetition state. Zero value is ready to use.
// Counters are ephemeral runtime state: they are never persisted and reset
// on engine restart and on resetNode.
type Counters struct {
	OutputRepeat       int
	DiffRepeat         int
	VerificationRepeat int

	lastOutputHash   string
	lastDiffHash     string
	lastVerification string
}

// Sample is one completed turn's repetition-relevant outputs. Empty DiffHash
// or Verification means "absent this turn" and breaks that repeat chain.
type Sample struct {
	OutputHash   string
	DiffHash     string
	Verification string
}

// Update folds one completed turn into the counters and reports whether any
// counter reached the threshold. Pure with respect to everything but c; the
// caller owns pausing the run and emitting events.
func Update(c *Counters, nodeID string, s Sample, threshold int) (bool, *events.StallEvidence) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	c.OutputRepeat, c.lastOutputHash = bump(c.OutputRepeat, c.lastOutputHash, s.OutputHash)
	c.DiffRepeat, c.lastDiffHash = bump(c.DiffRepeat, c.lastDiffHash, s.DiffHash)
	c.VerificationRepeat, c.lastVerification = bump(c.VerificationRepeat, c.lastVerification, s.Verification)

	switch {
	case c.OutputRepeat >= threshold:
		return true, &events.StallEvidence{
			Kind:       KindOutputRepeat,
			NodeID:     nodeID,
			SampleHash: s.OutputHash,
			Count:      c.OutputRepeat + 1,
		}
	case c.DiffRepeat >= threshold:
		return true, &events.StallEvidence{
			Kind:       KindDiffRepeat,
			NodeID:     nodeID,
			SampleHash: s.DiffHash,
			Count:      c.DiffRepeat + 1,
		}
	case c.VerificationRepeat >= threshold:
		return true, &events.StallEvidence{
			Kind:       KindVerificationRepeat,
			NodeID:     nodeID,
			SampleHash: s.Verification,
			Count:      c.VerificationRepeat + 1,
		}
	}
	return false, nil
}

// bump advances one counter: increment on a repeated value, reset otherwise.
// An empty current value always resets (nothing to compare).
func bump(counter int, last, current string) (int, string) {
	if current == "" {
		return 0, ""
	}
	if current == last {
		return counter + 1, current
	}
	return 0, current
}

// Reset clears all counters and remembered values.
func (c *Counters) Reset() {
	*c = Counters{}
}

// Hash returns the hex SHA-256 of s. Used for output and diff hashes so the
// runner, scheduler and tests agree on the encoding.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
