// internal/catalog/catalog.go
//
// Activity catalog for the matchbank server.
//
// Responsibilities:
//   - Load activity definitions from an environment-provided JSON file
//     or fall back to the embedded defaults.
//   - Narrow the duck-typed wire envelopes into typed
//     activity.Definition values exactly once, at the boundary:
//     handlers and the engine never see raw payloads.
//   - Supply lookup utilities: Get, IDs, RandomID, Stats.
//
// Wire format (one envelope per activity):
//   {
//     "id": "...", "title": "...", "book_id": "...",
//     "kind": "category-match",
//     "section_path": "unit-1/...",
//     "words": ["apple", ...],
//     "answer": [{"coords": {"x":100,"y":100,"w":80,"h":40}, "group": ["apple", ...]}, ...]
//   }
//
// Initialization behavior (Init):
//   1. If ACTIVITIES_FILE is set, load envelopes from that path.
//   2. Otherwise, use the embedded defaults from assets/activities.json.
//
// Constraints:
//   • Only kind "category-match" is understood; other kinds are skipped
//     with a warning so a shared catalog file can carry future variants.
//   • Word ids are assigned "item-<index>" in list order at load time.
//   • Zone keys derive from anchor coordinates; an envelope with a
//     duplicate zone key is rejected as malformed.
//   • Initialization is run once (sync.Once).

package catalog

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/finchley/matchbank/assets"
	"github.com/finchley/matchbank/internal/activity"
)

// KindCategoryMatch is the only activity kind this server narrows into
// an engine definition.
const KindCategoryMatch = "category-match"

// envelope is the raw wire shape of one catalog entry before narrowing.
type envelope struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	BookID      string     `json:"book_id"`
	Kind        string     `json:"kind"`
	SectionPath string     `json:"section_path"`
	Words       []string   `json:"words"`
	Answer      []zoneSpec `json:"answer"`
}

type zoneSpec struct {
	Coords activity.Coords `json:"coords"`
	Group  []string        `json:"group"`
}

var (
	initOnce   sync.Once
	byID       map[string]activity.Definition
	order      []string // definition ids in file order
	initialErr error
)

// Init loads the catalog exactly once.
// Returns an error if no usable definition ends up loaded.
func Init() error {
	initOnce.Do(func() {
		var raw []byte
		var err error

		if path := os.Getenv("ACTIVITIES_FILE"); path != "" {
			raw, err = os.ReadFile(path)
			if err != nil {
				initialErr = fmt.Errorf("read %s: %w", path, err)
				return
			}
		} else {
			raw, err = assets.DefaultActivities()
			if err != nil {
				initialErr = fmt.Errorf("embedded activities: %w", err)
				return
			}
		}

		defs, err := Parse(raw)
		if err != nil {
			initialErr = err
			return
		}

		byID = make(map[string]activity.Definition, len(defs))
		for _, d := range defs {
			if _, dup := byID[d.ID]; dup {
				log.Warn().Str("activity", d.ID).Msg("duplicate activity id, keeping first")
				continue
			}
			byID[d.ID] = d
			order = append(order, d.ID)
		}
		if len(order) == 0 {
			initialErr = errors.New("catalog: no usable activities loaded")
		}
	})
	return initialErr
}

// Parse decodes a JSON envelope list and narrows every recognized
// entry into an engine definition. Unknown kinds and malformed entries
// are skipped, not fatal: one bad activity must not take the catalog
// down with it.
func Parse(raw []byte) ([]activity.Definition, error) {
	var envs []envelope
	if err := json.Unmarshal(raw, &envs); err != nil {
		return nil, fmt.Errorf("decode activities: %w", err)
	}

	out := make([]activity.Definition, 0, len(envs))
	for i, e := range envs {
		if e.Kind != KindCategoryMatch {
			log.Warn().Str("activity", e.ID).Str("kind", e.Kind).Msg("skipping unsupported activity kind")
			continue
		}
		d, err := narrow(e)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Str("activity", e.ID).Msg("skipping malformed activity")
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// narrow converts one category-match envelope into a Definition,
// assigning word ids and deriving zone keys.
func narrow(e envelope) (activity.Definition, error) {
	if e.ID == "" {
		return activity.Definition{}, errors.New("missing id")
	}
	d := activity.Definition{
		ID:          e.ID,
		Title:       e.Title,
		BookID:      e.BookID,
		SectionPath: e.SectionPath,
		Words:       make([]activity.Word, 0, len(e.Words)),
		Zones:       make([]activity.Zone, 0, len(e.Answer)),
	}
	for i, text := range e.Words {
		d.Words = append(d.Words, activity.Word{ID: "item-" + strconv.Itoa(i), Text: text})
	}
	seen := make(map[string]struct{}, len(e.Answer))
	for _, z := range e.Answer {
		key := activity.ZoneKey(z.Coords)
		if _, dup := seen[key]; dup {
			return activity.Definition{}, fmt.Errorf("duplicate zone key %s", key)
		}
		seen[key] = struct{}{}
		d.Zones = append(d.Zones, activity.Zone{Key: key, Coords: z.Coords, Group: z.Group})
	}
	return d, nil
}

// Get returns the definition for id.
func Get(id string) (activity.Definition, bool) {
	d, ok := byID[id]
	return d, ok
}

// IDs returns all loaded activity ids in catalog order.
func IDs() []string {
	return append([]string{}, order...)
}

// RandomID returns a cryptographically random activity id, or "" when
// the catalog is empty.
func RandomID() string {
	if len(order) == 0 {
		return ""
	}
	nBig, err := rand.Int(rand.Reader, big.NewInt(int64(len(order))))
	if err != nil {
		return order[0]
	}
	return order[nBig.Int64()]
}

// Stats returns the number of loaded activities.
func Stats() int {
	return len(order)
}
