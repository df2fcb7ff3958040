// Package pagemap converts per-page extracted text into a single text blob
// plus a page-to-offset index, and slices page text back out of the blob.
//
// Offsets are byte offsets into the UTF-8 text.
package pagemap

import (
	"errors"
	"fmt"
	"strings"

	"socratium/pkg/domain"
)

// Joiner separates consecutive pages in the stored text.
const Joiner = "\n\n"

var (
	ErrPageNotFound = errors.New("page not found")
	ErrOutOfRange   = errors.New("page offsets out of range")
)

// Build records where each page lands in strings.Join(pages, joiner).
// Page numbers are 1-based and entries are contiguous: entry i+1 starts
// len(joiner) bytes after entry i ends.
func Build(pages []string, joiner string) []domain.PageMapEntry {
	entries := make([]domain.PageMapEntry, 0, len(pages))
	offset := 0
	for i, page := range pages {
		start := offset
		end := start + len(page)
		entries = append(entries, domain.PageMapEntry{
			PageNumber:  i + 1,
			StartOffset: start,
			EndOffset:   end,
		})
		offset = end + len(joiner)
	}
	return entries
}

// Join concatenates pages with the default joiner and returns the text
// together with its page map.
func Join(pages []string) (string, []domain.PageMapEntry) {
	return strings.Join(pages, Joiner), Build(pages, Joiner)
}

// Slice returns the text covered by entry.
func Slice(text string, entry domain.PageMapEntry) (string, error) {
	if entry.StartOffset < 0 || entry.EndOffset < entry.StartOffset || entry.EndOffset > len(text) {
		return "", fmt.Errorf("%w: page %d [%d,%d) of %d bytes",
			ErrOutOfRange, entry.PageNumber, entry.StartOffset, entry.EndOffset, len(text))
	}
	return text[entry.StartOffset:entry.EndOffset], nil
}

// Find returns the entry for page.
func Find(entries []domain.PageMapEntry, page int) (domain.PageMapEntry, error) {
	// Entries built by Build are dense, so try the direct index first.
	if page >= 1 && page <= len(entries) && entries[page-1].PageNumber == page {
		return entries[page-1], nil
	}
	for _, e := range entries {
		if e.PageNumber == page {
			return e, nil
		}
	}
	return domain.PageMapEntry{}, ErrPageNotFound
}

// PageText slices page out of text using entries.
func PageText(text string, entries []domain.PageMapEntry, page int) (string, error) {
	entry, err := Find(entries, page)
	if err != nil {
		return "", err
	}
	return Slice(text, entry)
}

// Validate checks that entries are numbered 1..n and contiguous for a
// joiner of joinerLen bytes.
func Validate(entries []domain.PageMapEntry, joinerLen int) error {
	for i, e := range entries {
		if e.PageNumber != i+1 {
			return fmt.Errorf("entry %d: page number %d, want %d", i, e.PageNumber, i+1)
		}
		if e.StartOffset < 0 || e.EndOffset < e.StartOffset {
			return fmt.Errorf("page %d: invalid range [%d,%d)", e.PageNumber, e.StartOffset, e.EndOffset)
		}
		if i > 0 {
			want := entries[i-1].EndOffset + joinerLen
			if e.StartOffset != want {
				return fmt.Errorf("page %d: start %d, want %d", e.PageNumber, e.StartOffset, want)
			}
		}
	}
	return nil
}
