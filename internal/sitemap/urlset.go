package sitemap

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
)

// Namespace is the sitemaps.org 0.9 schema namespace.
const Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// URLSet is the root element of a sitemap document.
type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []URL    `xml:"url"`
}

// URL is one sitemap entry.
type URL struct {
	Loc string `xml:"loc"`
}

// NewURLSet sorts and de-duplicates locs.
func NewURLSet(locs []string) URLSet {
	sorted := append([]string(nil), locs...)
	sort.Strings(sorted)
	set := URLSet{Xmlns: Namespace, URLs: make([]URL, 0, len(sorted))}
	for i, loc := range sorted {
		if loc == "" || (i > 0 && loc == sorted[i-1]) {
			continue
		}
		set.URLs = append(set.URLs, URL{Loc: loc})
	}
	return set
}

// Encode writes the set as an indented XML document with header.
func (s URLSet) Encode(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode urlset: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("write trailing newline: %w", err)
	}
	return nil
}

// WriteFile writes the sitemap for locs to path, replacing any existing file.
func WriteFile(path string, locs []string) (err error) {
	f, err := os.Create(path) // #nosec G304 -- path is chosen by the worker.
	if err != nil {
		return fmt.Errorf("create sitemap file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close sitemap file: %w", closeErr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return NewURLSet(locs).Encode(f)
}
