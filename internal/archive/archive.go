// Package archive unpacks a downloaded repository archive into the filtered
// set of text files the segmenter works on.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"codequiz/internal/config"
	"codequiz/internal/model"
)

// Extract unpacks archive bytes into RepoFiles, applying the configured
// filters. Individual bad entries are silently skipped; only a malformed
// archive envelope is an error.
func Extract(data []byte, cfg config.Snippets) ([]model.RepoFile, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var files []model.RepoFile
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if uint64ToInt64(entry.UncompressedSize64) > cfg.MaxFileSizeBytes() {
			continue
		}
		normalized := stripArchiveRoot(entry.Name)
		if normalized == "" {
			continue
		}
		if isExcluded(normalized, cfg.ExcludedDirs) {
			continue
		}
		if !hasAllowedExtension(normalized, cfg.AllowedExtensions) {
			continue
		}
		raw, ok := readEntry(entry, cfg.MaxFileSizeBytes())
		if !ok {
			continue
		}
		if bytes.IndexByte(raw, 0) >= 0 {
			continue
		}
		text := decodeLossy(raw)
		files = append(files, model.RepoFile{
			Path:    normalized,
			Content: text,
			Lines:   splitLines(text),
		})
	}
	return files, nil
}

func readEntry(entry *zip.File, limit int64) ([]byte, bool) {
	rc, err := entry.Open()
	if err != nil {
		return nil, false
	}
	defer rc.Close()

	// The declared size is untrusted; cap the actual read too.
	raw, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil || int64(len(raw)) > limit {
		return nil, false
	}
	return raw, true
}

// stripArchiveRoot removes the archive's single top-level directory. Paths
// without a component below the root map to the empty string.
func stripArchiveRoot(name string) string {
	clean := path.Clean(strings.TrimPrefix(name, "/"))
	parts := strings.Split(clean, "/")
	if len(parts) <= 1 {
		return ""
	}
	return path.Join(parts[1:]...)
}

func isExcluded(p string, excludedDirs []string) bool {
	segments := strings.Split(p, "/")
	for _, segment := range segments {
		for _, excluded := range excludedDirs {
			if segment == excluded {
				return true
			}
		}
	}
	return false
}

func hasAllowedExtension(p string, allowed []string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, candidate := range allowed {
		if strings.ToLower(candidate) == ext {
			return true
		}
	}
	return false
}

// decodeLossy keeps valid UTF-8 runes and drops invalid sequences.
func decodeLossy(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	var sb strings.Builder
	sb.Grow(len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r != utf8.RuneError || size > 1 {
			sb.WriteRune(r)
		}
		raw = raw[size:]
	}
	return sb.String()
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	// A trailing newline does not introduce an extra empty line.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func uint64ToInt64(v uint64) int64 {
	if v > 1<<62 {
		return 1 << 62
	}
	return int64(v)
}
