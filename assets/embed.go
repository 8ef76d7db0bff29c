package assets

import "embed"

//go:embed activities.json
var FS embed.FS

// DefaultActivities returns the embedded default activity set, used
// when no ACTIVITIES_FILE is configured.
func DefaultActivities() ([]byte, error) {
	return FS.ReadFile("activities.json")
}
