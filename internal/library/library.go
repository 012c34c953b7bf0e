// Package library finds the candidate stem files in a folder.
package library

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// DefaultExtensions are the formats a stem folder is filtered by.
var DefaultExtensions = []string{".mp3", ".flac"}

// File is one candidate stem.
type File struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

// ScanResult lists the files of a folder split into stem candidates and
// files rejected by the extension filter.
type ScanResult struct {
	Files    []File
	Rejected []string
}

// NormalizeExtensions lower-cases the list and adds missing leading dots.
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// Matches reports whether path carries one of exts, case-insensitively.
func Matches(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Scan lists the regular files directly inside folder (no recursion), in
// name order as returned by os.ReadDir. Files whose extension is not in exts go to Rejected.
func Scan(folder string, exts []string) (*ScanResult, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", folder)
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}

	exts = NormalizeExtensions(exts)
	res := &ScanResult{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(folder, e.Name())
		if !Matches(path, exts) {
			res.Rejected = append(res.Rejected, path)
			continue
		}
		res.Files = append(res.Files, File{
			Path:  path,
			Name:  e.Name(),
			Title: ReadTitle(path),
		})
	}
	return res, nil
}

// ReadTitle returns the title tag of an audio file, falling back to the
// file name without extension when the file has no usable tags.
func ReadTitle(path string) string {
	fallback := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	f, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		if err != tag.ErrNoTagsFound {
			log.Printf("Library: could not read tags from %s: %v", path, err)
		}
		return fallback
	}
	if title := strings.TrimSpace(meta.Title()); title != "" {
		return title
	}
	return fallback
}
