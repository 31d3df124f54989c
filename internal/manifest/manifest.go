// Package manifest reads candidate content items from per-bucket JSON files
// and selects the next eligible item under daily bucket rotation.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Item is one candidate content item. Identity key is SourceURL.
type Item struct {
	Bucket         string
	SourceURL      string
	Filename       string
	Title          string
	Description    string
	DestinationURL string
	Status         string
}

// Bucket is a named, ordered group of items, rotated daily as the starting
// scan point.
type Bucket struct {
	Name  string
	Items []Item
}

// rawItem covers both manifest generations: current files use "items" with
// "source_url", older ones "pins" with "video_url".
type rawItem struct {
	SourceURL   string `json:"source_url"`
	VideoURL    string `json:"video_url"`
	Filename    string `json:"filename"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Destination *struct {
		URL string `json:"url"`
	} `json:"destination"`
}

type rawManifest struct {
	Items []rawItem `json:"items"`
	Pins  []rawItem `json:"pins"`
}

// ReadBuckets loads the listed bucket files from dir, in order. A listed
// file that does not exist is skipped; a malformed one is a hard error.
func ReadBuckets(dir string, order []string) ([]Bucket, error) {
	out := make([]Bucket, 0, len(order))
	found := false
	for _, name := range order {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("manifest: read %s: %w", path, err)
		}
		found = true

		var raw rawManifest
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
		}
		rows := raw.Items
		if len(rows) == 0 {
			rows = raw.Pins
		}

		b := Bucket{Name: name}
		for _, r := range rows {
			it, ok := r.toItem(name)
			if !ok {
				continue
			}
			b.Items = append(b.Items, it)
		}
		out = append(out, b)
	}
	if !found {
		return nil, fmt.Errorf("manifest: no bucket files found in %s", dir)
	}
	return out, nil
}

func (r rawItem) toItem(bucket string) (Item, bool) {
	src := strings.TrimSpace(r.SourceURL)
	if src == "" {
		src = strings.TrimSpace(r.VideoURL)
	}
	if src == "" {
		return Item{}, false
	}

	it := Item{
		Bucket:      bucket,
		SourceURL:   src,
		Filename:    strings.TrimSpace(r.Filename),
		Title:       strings.TrimSpace(r.Title),
		Description: strings.TrimSpace(r.Description),
		Status:      strings.TrimSpace(r.Status),
	}
	if it.Filename == "" {
		it.Filename = FilenameFromURL(src)
	}
	if r.Destination != nil {
		it.DestinationURL = strings.TrimSpace(r.Destination.URL)
	}
	return it, true
}

// FilenameFromURL derives a local filename from the last URL path segment.
func FilenameFromURL(url string) string {
	s := url
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "video.mp4"
	}
	return s
}
