// internal/materials/client.go
//
// Client for the external materials service that hosts activity
// background images. The server resolves an image URL once per session,
// at creation; everything after that is the frontend's business.
//
// Resolution failure is always survivable: a session with no background
// image is degraded, not broken, so every error path here collapses to
// an empty URL plus a warn log at the caller.

package materials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Resolver maps an activity's (bookID, sectionPath) to a background
// image URL. Implementations return an error when the image cannot be
// resolved; callers treat that as "no image", never as fatal.
type Resolver interface {
	ResolveImage(ctx context.Context, bookID, sectionPath string) (string, error)
}

// Client resolves images against a materials service over HTTP.
type Client struct {
	base string
	http *http.Client
}

// NewClient constructs a Client for the service at base
// (e.g. https://materials.internal). An empty base yields a client
// whose resolutions always fail, which deployments without a materials
// service use deliberately.
func NewClient(base string) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// resolveRes is the materials service response shape.
type resolveRes struct {
	URL string `json:"url"`
}

// ResolveImage asks the materials service for the background image of
// one book section: GET {base}/v1/images?book=...&section=...
func (c *Client) ResolveImage(ctx context.Context, bookID, sectionPath string) (string, error) {
	if c.base == "" {
		return "", fmt.Errorf("materials: no base url configured")
	}
	u := c.base + "/v1/images?book=" + url.QueryEscape(bookID) + "&section=" + url.QueryEscape(sectionPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("materials: status %d", res.StatusCode)
	}
	var body resolveRes
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.URL == "" {
		return "", fmt.Errorf("materials: empty url in response")
	}
	return body.URL, nil
}
