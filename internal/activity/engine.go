// internal/activity/engine.go
//
// Core engine for a single category-matching session.
// Responsibilities:
//   - Track the placement map (zone key → word id) and the selection
//     cursor for the tap-to-place interaction model.
//   - Derive the available word bank from the placement map, never
//     storing it separately.
//   - Enforce review-mode immutability and grade placements against
//     each zone's acceptable group.
//   - Emit the full placement map to an optional callback on every
//     successful mutation.
//
// Notes:
//   - Misuse is never an error: operations whose preconditions fail are
//     silent no-ops, reported through the bool return only. The engine
//     has no network or storage dependency of its own.
//   - Grading uses the membership policy: a zone is correct iff the
//     placed word's text appears in that zone's group. (The alternative
//     seen in the wild — trusting a caller-supplied set of known-correct
//     zone keys regardless of occupant — is deliberately not supported.)
//   - randomID() is a compact hex identifier for correlating server state.

package activity

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Options configures a new session.
type Options struct {
	// AllowReset enables the Reset operation. Deployments without a
	// reset affordance construct sessions with this false, making Reset
	// a documented no-op.
	AllowReset bool

	// OnChange, when set, receives a detached copy of the placement map
	// after every successful Place or Reset. Fire-and-forget: the engine
	// ignores anything the callback does.
	OnChange func(map[string]string)
}

// Session holds the state of one activity run, play or review.
type Session struct {
	ID       string     // unique session identifier (random hex string)
	Def      Definition // immutable activity definition
	ImageURL string     // resolved background image, "" when unavailable
	Started  time.Time  // session creation time (UTC)

	mu         sync.Mutex
	placements map[string]string // zone key -> word id
	cursor     string            // armed word id, "" when none
	mode       Mode
	moves      int
	allowReset bool
	onChange   func(map[string]string)

	byID  map[string]Word     // word id -> word
	zones map[string]struct{} // known zone keys
}

// New constructs a play-mode session for def.
func New(def Definition, opts Options) *Session {
	s := &Session{
		ID:         randomID(),
		Def:        def,
		Started:    time.Now().UTC(),
		placements: make(map[string]string),
		mode:       ModePlay,
		allowReset: opts.AllowReset,
		onChange:   opts.OnChange,
	}
	s.index()
	return s
}

// NewReview constructs a read-only session displaying a previously
// recorded placement map. Entries naming unknown zones or unknown word
// ids are dropped, as is any second zone claiming an already-placed
// word (zone order decides). The cursor is forced empty and every
// mutating operation is a no-op for the life of the session.
func NewReview(def Definition, placements map[string]string) *Session {
	s := &Session{
		ID:         randomID(),
		Def:        def,
		Started:    time.Now().UTC(),
		placements: make(map[string]string, len(placements)),
		mode:       ModeReview,
	}
	s.index()
	taken := make(map[string]struct{}, len(placements))
	for _, z := range def.Zones {
		id, ok := placements[z.Key]
		if !ok {
			continue
		}
		if _, known := s.byID[id]; !known {
			continue
		}
		if _, dup := taken[id]; dup {
			continue
		}
		s.placements[z.Key] = id
		taken[id] = struct{}{}
	}
	return s
}

// index builds the word and zone lookup maps from the definition.
func (s *Session) index() {
	s.byID = make(map[string]Word, len(s.Def.Words))
	for _, w := range s.Def.Words {
		s.byID[w.ID] = w
	}
	s.zones = make(map[string]struct{}, len(s.Def.Zones))
	for _, z := range s.Def.Zones {
		s.zones[z.Key] = struct{}{}
	}
}

// Select arms a word-bank item for placement. No-op unless the session
// is in play mode and the item is currently available. Re-selecting the
// already-armed item is a no-op with the cursor kept: there is no
// deselect affordance anywhere else, so toggling off would strand the
// user without one.
func (s *Session) Select(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModePlay {
		return false
	}
	if _, known := s.byID[itemID]; !known {
		return false
	}
	if s.placedLocked(itemID) {
		return false
	}
	if s.cursor == itemID {
		return false
	}
	s.cursor = itemID
	return true
}

// Place drops the armed item into zoneKey, replacing any occupant (the
// occupant becomes available again through derivation). Clears the
// cursor and emits the updated placement map. No-op with an empty
// cursor, in review mode, or for an unknown zone.
func (s *Session) Place(zoneKey string) bool {
	s.mu.Lock()
	if s.mode != ModePlay || s.cursor == "" {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.zones[zoneKey]; !ok {
		s.mu.Unlock()
		return false
	}
	s.placements[zoneKey] = s.cursor
	s.cursor = ""
	s.moves++
	cb, snap := s.onChange, s.placementsCopyLocked()
	s.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
	return true
}

// Reset clears every placement and emits the empty map. Only available
// when the session was constructed with AllowReset and is in play mode.
func (s *Session) Reset() bool {
	s.mu.Lock()
	if s.mode != ModePlay || !s.allowReset {
		s.mu.Unlock()
		return false
	}
	s.placements = make(map[string]string)
	s.cursor = ""
	cb, snap := s.onChange, s.placementsCopyLocked()
	s.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
	return true
}

// Finish grades every zone under the membership policy and moves the
// session to review mode. Idempotent: finishing a finished session
// re-grades the same placements.
func (s *Session) Finish() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeReview
	s.cursor = ""

	res := Result{Verdicts: make(map[string]Verdict, len(s.Def.Zones))}
	for _, z := range s.Def.Zones {
		v := s.evaluateLocked(z)
		res.Verdicts[z.Key] = v
		if v == VerdictCorrect {
			res.Correct++
		}
	}
	res.Total = len(s.Def.Zones)
	if res.Total > 0 {
		res.Score = float64(res.Correct) / float64(res.Total)
	}
	return res
}

// Evaluate reports the verdict for one zone. Meaningful only in review
// mode; returns ok=false in play mode or for an unknown zone key.
// Evaluation is pure annotation: it never touches the placement map.
func (s *Session) Evaluate(zoneKey string) (Verdict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeReview {
		return VerdictEmpty, false
	}
	for _, z := range s.Def.Zones {
		if z.Key == zoneKey {
			return s.evaluateLocked(z), true
		}
	}
	return VerdictEmpty, false
}

// evaluateLocked applies the membership policy to one zone.
func (s *Session) evaluateLocked(z Zone) Verdict {
	id, ok := s.placements[z.Key]
	if !ok {
		return VerdictEmpty
	}
	w, known := s.byID[id]
	if !known {
		return VerdictIncorrect
	}
	for _, accepted := range z.Group {
		if w.Text == accepted {
			return VerdictCorrect
		}
	}
	return VerdictIncorrect
}

// Available returns the word bank: every word not currently placed, in
// original definition order. Placed words disappear from the bank
// entirely rather than rendering disabled in place.
func (s *Session) Available() []Word {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableLocked()
}

func (s *Session) availableLocked() []Word {
	placed := make(map[string]struct{}, len(s.placements))
	for _, id := range s.placements {
		placed[id] = struct{}{}
	}
	out := make([]Word, 0, len(s.Def.Words))
	for _, w := range s.Def.Words {
		if _, ok := placed[w.ID]; !ok {
			out = append(out, w)
		}
	}
	return out
}

// Snapshot returns a detached copy of the full mutable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Placements: s.placementsCopyLocked(),
		Available:  s.availableLocked(),
		Cursor:     s.cursor,
		Mode:       s.mode,
	}
}

// Mode reports whether the session is in play or review.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Moves reports the number of successful placements so far.
func (s *Session) Moves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}

// placedLocked reports whether itemID currently occupies any zone.
func (s *Session) placedLocked(itemID string) bool {
	for _, id := range s.placements {
		if id == itemID {
			return true
		}
	}
	return false
}

func (s *Session) placementsCopyLocked() map[string]string {
	cp := make(map[string]string, len(s.placements))
	for k, v := range s.placements {
		cp[k] = v
	}
	return cp
}

// randomID returns a compact 16-hex-char identifier.
// Collisions are extremely unlikely given crypto/rand entropy.
func randomID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
