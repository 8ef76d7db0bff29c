package activity

import (
	"strconv"
	"testing"
)

// testDef returns the canonical six-word, two-zone fixture used across
// the engine tests.
func testDef() Definition {
	words := []string{"apple", "banana", "cat", "dog", "car", "bus"}
	def := Definition{
		ID:     "act-1",
		Title:  "Fruits vs vehicles",
		BookID: "book-1",
		Zones: []Zone{
			{Key: "100-100", Coords: Coords{X: 100, Y: 100, W: 80, H: 40}, Group: []string{"apple", "banana", "orange"}},
			{Key: "200-100", Coords: Coords{X: 200, Y: 100, W: 80, H: 40}, Group: []string{"car", "bus"}},
		},
	}
	for i, t := range words {
		def.Words = append(def.Words, Word{ID: "item-" + strconv.Itoa(i), Text: t})
	}
	return def
}

// checkPartition asserts available ∪ placed == original word list with
// no duplicates (P1) and that no id occupies two zones (P2).
func checkPartition(t *testing.T, s *Session) {
	t.Helper()
	snap := s.Snapshot()

	seen := make(map[string]int)
	for _, w := range snap.Available {
		seen[w.ID]++
	}
	for _, id := range snap.Placements {
		seen[id]++
	}
	if len(seen) != len(s.Def.Words) {
		t.Fatalf("partition broken: %d ids accounted for, want %d", len(seen), len(s.Def.Words))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("id %s appears %d times across bank+placements", id, n)
		}
	}
}

func TestPlaceBasicFlow(t *testing.T) {
	var emitted []map[string]string
	s := New(testDef(), Options{OnChange: func(m map[string]string) { emitted = append(emitted, m) }})

	if !s.Select("item-0") {
		t.Fatal("select item-0 should succeed")
	}
	if !s.Place("100-100") {
		t.Fatal("place should succeed with armed cursor")
	}

	snap := s.Snapshot()
	if got := snap.Placements["100-100"]; got != "item-0" {
		t.Fatalf("zone 100-100 = %q, want item-0", got)
	}
	if snap.Cursor != "" {
		t.Fatalf("cursor should clear after placement, got %q", snap.Cursor)
	}
	if len(snap.Available) != 5 {
		t.Fatalf("word bank has %d entries, want 5", len(snap.Available))
	}
	// Exactly one emission, carrying the full map (P5).
	if len(emitted) != 1 {
		t.Fatalf("got %d emissions, want 1", len(emitted))
	}
	if len(emitted[0]) != 1 || emitted[0]["100-100"] != "item-0" {
		t.Fatalf("emitted map = %v", emitted[0])
	}
	checkPartition(t, s)
}

func TestOverwriteReleasesOccupant(t *testing.T) {
	s := New(testDef(), Options{})

	s.Select("item-0")
	s.Place("100-100")
	s.Select("item-1")
	if !s.Place("100-100") {
		t.Fatal("overwriting an occupied zone should succeed")
	}

	snap := s.Snapshot()
	if snap.Placements["100-100"] != "item-1" {
		t.Fatalf("zone holds %q, want item-1", snap.Placements["100-100"])
	}
	// item-0 must be back in the bank, item-1 gone from it.
	back, gone := false, true
	for _, w := range snap.Available {
		if w.ID == "item-0" {
			back = true
		}
		if w.ID == "item-1" {
			gone = false
		}
	}
	if !back || !gone {
		t.Fatalf("available after overwrite = %v", snap.Available)
	}
	checkPartition(t, s)
}

func TestPartitionHoldsAcrossRandomishSequence(t *testing.T) {
	s := New(testDef(), Options{AllowReset: true})

	steps := []struct {
		op  string
		arg string
	}{
		{"select", "item-2"},
		{"place", "100-100"},
		{"select", "item-3"},
		{"place", "200-100"},
		{"select", "item-0"},
		{"place", "100-100"}, // evicts item-2
		{"place", "200-100"}, // no cursor: no-op
		{"select", "item-2"}, // released, selectable again
		{"place", "200-100"}, // evicts item-3
		{"reset", ""},
		{"select", "item-5"},
		{"place", "100-100"},
	}
	for _, st := range steps {
		switch st.op {
		case "select":
			s.Select(st.arg)
		case "place":
			s.Place(st.arg)
		case "reset":
			s.Reset()
		}
		checkPartition(t, s) // P1/P2 at every timestep
	}
	snap := s.Snapshot()
	if snap.Placements["100-100"] != "item-5" {
		t.Fatalf("final zone occupant = %q, want item-5", snap.Placements["100-100"])
	}
}

func TestSelectGuards(t *testing.T) {
	s := New(testDef(), Options{})

	if s.Select("no-such-item") {
		t.Fatal("selecting an unknown id should be a no-op")
	}
	s.Select("item-0")
	s.Place("100-100")
	if s.Select("item-0") {
		t.Fatal("selecting a placed item should be a no-op")
	}
	// Re-selecting the armed item keeps the cursor and reports no-op.
	s.Select("item-1")
	if s.Select("item-1") {
		t.Fatal("re-select of armed item should report no-op")
	}
	if got := s.Snapshot().Cursor; got != "item-1" {
		t.Fatalf("cursor = %q after re-select, want item-1 (kept, not toggled off)", got)
	}
}

func TestPlaceGuards(t *testing.T) {
	var emissions int
	s := New(testDef(), Options{OnChange: func(map[string]string) { emissions++ }})

	if s.Place("100-100") {
		t.Fatal("place with empty cursor should be a no-op")
	}
	s.Select("item-0")
	if s.Place("999-999") {
		t.Fatal("place into unknown zone should be a no-op")
	}
	if got := s.Snapshot().Cursor; got != "item-0" {
		t.Fatalf("failed place should keep the cursor, got %q", got)
	}
	if emissions != 0 {
		t.Fatalf("no-ops emitted %d times, want 0", emissions)
	}
}

func TestResetDisabledByDefault(t *testing.T) {
	var emissions int
	s := New(testDef(), Options{OnChange: func(map[string]string) { emissions++ }})
	s.Select("item-0")
	s.Place("100-100")
	emissions = 0

	if s.Reset() {
		t.Fatal("reset should be a no-op without AllowReset")
	}
	if len(s.Snapshot().Placements) != 1 {
		t.Fatal("no-op reset must not clear placements")
	}
	if emissions != 0 {
		t.Fatal("no-op reset must not emit")
	}
}

func TestResetEmitsEmptyMap(t *testing.T) {
	var last map[string]string
	s := New(testDef(), Options{AllowReset: true, OnChange: func(m map[string]string) { last = m }})
	s.Select("item-0")
	s.Place("100-100")

	if !s.Reset() {
		t.Fatal("reset should succeed when enabled")
	}
	if len(last) != 0 {
		t.Fatalf("reset emitted %v, want empty map", last)
	}
	if len(s.Snapshot().Available) != 6 {
		t.Fatal("all words should return to the bank after reset")
	}
}

func TestFinishGradesMembership(t *testing.T) {
	s := New(testDef(), Options{})
	s.Select("item-1") // "banana" ∈ {apple, banana, orange}
	s.Place("100-100")
	s.Select("item-2") // "cat" ∉ {car, bus}
	s.Place("200-100")

	res := s.Finish()
	if res.Verdicts["100-100"] != VerdictCorrect {
		t.Fatalf("zone 100-100 = %s, want correct", res.Verdicts["100-100"])
	}
	if res.Verdicts["200-100"] != VerdictIncorrect {
		t.Fatalf("zone 200-100 = %s, want incorrect", res.Verdicts["200-100"])
	}
	if res.Correct != 1 || res.Total != 2 || res.Score != 0.5 {
		t.Fatalf("result = %+v", res)
	}
}

func TestFinishEmptyZoneNeitherCorrectNorIncorrect(t *testing.T) {
	s := New(testDef(), Options{})
	res := s.Finish()
	for k, v := range res.Verdicts {
		if v != VerdictEmpty {
			t.Fatalf("zone %s = %s, want empty", k, v)
		}
	}
	if res.Score != 0 {
		t.Fatalf("score = %v, want 0", res.Score)
	}
}

func TestMembershipAcceptsAnyGroupMember(t *testing.T) {
	// Scenario: any member of the group grades correct, non-members do not.
	for _, tc := range []struct {
		text string
		want Verdict
	}{
		{"banana", VerdictCorrect},
		{"orange", VerdictCorrect},
		{"cat", VerdictIncorrect},
	} {
		def := Definition{
			Words: []Word{{ID: "item-0", Text: tc.text}},
			Zones: []Zone{{Key: "100-100", Group: []string{"apple", "banana", "orange"}}},
		}
		s := NewReview(def, map[string]string{"100-100": "item-0"})
		v, ok := s.Evaluate("100-100")
		if !ok {
			t.Fatalf("%s: evaluate not ok in review mode", tc.text)
		}
		if v != tc.want {
			t.Fatalf("placed %q: verdict %s, want %s", tc.text, v, tc.want)
		}
	}
}

func TestReviewModeIsImmutable(t *testing.T) {
	def := testDef()
	initial := map[string]string{"100-100": "item-0"}
	var emissions int
	s := NewReview(def, initial)
	s.onChange = func(map[string]string) { emissions++ }

	if s.Select("item-1") || s.Place("200-100") || s.Reset() {
		t.Fatal("mutating ops must all be no-ops in review mode")
	}
	snap := s.Snapshot()
	if snap.Cursor != "" {
		t.Fatal("review cursor must stay empty")
	}
	if len(snap.Placements) != 1 || snap.Placements["100-100"] != "item-0" {
		t.Fatalf("review placements changed: %v", snap.Placements)
	}
	if emissions != 0 {
		t.Fatal("review mode must never emit")
	}
	checkPartition(t, s)
}

func TestFinishedSessionRejectsFurtherOps(t *testing.T) {
	s := New(testDef(), Options{AllowReset: true})
	s.Select("item-0")
	s.Place("100-100")
	s.Finish()

	if s.Select("item-1") || s.Place("200-100") || s.Reset() {
		t.Fatal("finished session must reject select/place/reset")
	}
	if len(s.Snapshot().Placements) != 1 {
		t.Fatal("placements changed after finish")
	}
}

func TestReviewSanitizesInitialPlacements(t *testing.T) {
	def := testDef()
	s := NewReview(def, map[string]string{
		"100-100": "item-0",
		"200-100": "item-0",  // duplicate occupant: dropped
		"999-999": "item-1",  // unknown zone: dropped
		"300-100": "item-99", // unknown zone and id: dropped
	})
	snap := s.Snapshot()
	if len(snap.Placements) != 1 || snap.Placements["100-100"] != "item-0" {
		t.Fatalf("sanitized placements = %v", snap.Placements)
	}
	checkPartition(t, s)
}

func TestEvaluateOutsideReviewMode(t *testing.T) {
	s := New(testDef(), Options{})
	if _, ok := s.Evaluate("100-100"); ok {
		t.Fatal("evaluate must report not-ok in play mode")
	}
}

func TestEmptyDefinitionIsInert(t *testing.T) {
	s := New(Definition{}, Options{AllowReset: true})
	if s.Select("item-0") || s.Place("100-100") {
		t.Fatal("empty definition must be inert")
	}
	snap := s.Snapshot()
	if len(snap.Available) != 0 || len(snap.Placements) != 0 {
		t.Fatalf("inert snapshot = %+v", snap)
	}
	res := s.Finish()
	if res.Total != 0 || res.Score != 0 {
		t.Fatalf("inert result = %+v", res)
	}
}

func TestAvailablePreservesOriginalOrder(t *testing.T) {
	s := New(testDef(), Options{})
	s.Select("item-1")
	s.Place("100-100")
	s.Select("item-3")
	s.Place("200-100")

	want := []string{"item-0", "item-2", "item-4", "item-5"}
	got := s.Available()
	if len(got) != len(want) {
		t.Fatalf("available = %v", got)
	}
	for i, w := range got {
		if w.ID != want[i] {
			t.Fatalf("available[%d] = %s, want %s (order must stay stable)", i, w.ID, want[i])
		}
	}
}

func TestZoneKeyDerivation(t *testing.T) {
	if k := ZoneKey(Coords{X: 100, Y: 100, W: 80, H: 40}); k != "100-100" {
		t.Fatalf("ZoneKey = %q, want 100-100", k)
	}
	if k := ZoneKey(Coords{X: 0, Y: 250}); k != "0-250" {
		t.Fatalf("ZoneKey = %q, want 0-250", k)
	}
}
