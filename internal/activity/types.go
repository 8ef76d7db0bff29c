// internal/activity/types.go
//
// Core type definitions for the category-matching activity engine.
// Defines:
//   - Word: one word-bank entry (stable id + display text).
//   - Coords/Zone: a drop target on the activity background and its
//     acceptable-value group.
//   - Definition: the static description of one activity (word list +
//     answer key), produced by the catalog loader.
//   - Mode: play vs. review.
//   - Verdict: per-zone evaluation result in review mode.
//   - Snapshot: a full copy of the mutable session state.

package activity

import "strconv"

// Word is a single word-bank item. The ID, not the text, is what gets
// placed into zones: the same text can appear twice in one activity and
// each occurrence must stay distinguishable.
type Word struct {
	ID   string `json:"id"`   // "item-<index>", assigned at load time
	Text string `json:"text"` // display string
}

// Coords is the anchor rectangle of a drop zone on the background image.
type Coords struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Zone is one drop target. Key is derived from the anchor coordinate
// ("<x>-<y>") and is unique within a definition. Group lists every text
// value accepted as correct for this zone; case is authoritative.
type Zone struct {
	Key    string   `json:"key"`
	Coords Coords   `json:"coords"`
	Group  []string `json:"group,omitempty"`
}

// Definition is the immutable description of one activity instance.
type Definition struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	BookID      string `json:"bookId"`
	SectionPath string `json:"sectionPath"`
	Words       []Word `json:"words"`
	Zones       []Zone `json:"zones"`
}

// ZoneKey derives the stable zone key from an anchor coordinate.
// Keys come from static answer-key data, never from array position,
// so they survive re-renders and reordering.
func ZoneKey(c Coords) string {
	return strconv.Itoa(c.X) + "-" + strconv.Itoa(c.Y)
}

// Mode distinguishes live play from read-only review.
type Mode string

const (
	ModePlay   Mode = "play"
	ModeReview Mode = "review"
)

// Verdict is the evaluation of one zone in review mode.
// Possible values:
//   - "empty":     nothing placed; neither correct nor incorrect.
//   - "correct":   placed word's text is a member of the zone's group.
//   - "incorrect": placed word's text is not in the group.
type Verdict string

const (
	VerdictEmpty     Verdict = "empty"
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
)

// Snapshot is a detached copy of the session's mutable state. Emitted
// snapshots are authoritative replacements, not deltas: consumers must
// take each one wholesale.
type Snapshot struct {
	Placements map[string]string `json:"placements"` // zone key -> word id
	Available  []Word            `json:"available"`  // original order minus placed
	Cursor     string            `json:"cursor"`     // armed word id, "" when none
	Mode       Mode              `json:"mode"`
}

// Result is the outcome of grading a finished session.
type Result struct {
	Verdicts map[string]Verdict `json:"verdicts"` // zone key -> verdict
	Correct  int                `json:"correct"`
	Total    int                `json:"total"`
	Score    float64            `json:"score"` // correct/total, 0 when no zones
}
