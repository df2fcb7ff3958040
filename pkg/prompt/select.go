// Package prompt selects the pages around a reading position and assembles
// them, with the conversation, into a provider-neutral chat request.
package prompt

import (
	"context"

	"socratium/pkg/domain"
)

// PageLookup returns the text of one page. Errors mean the page is
// unavailable and are not fatal to the caller.
type PageLookup func(ctx context.Context, page int) (domain.PageText, error)

// SelectContext gathers pages max(1, target-window+1) through target in
// order. Pages the lookup cannot resolve are skipped. A window below 1 is
// treated as 1.
func SelectContext(ctx context.Context, target, window int, lookup PageLookup) []domain.PageText {
	if target < 1 || lookup == nil {
		return nil
	}
	if window < 1 {
		window = 1
	}
	start := max(1, target-(window-1))
	pages := make([]domain.PageText, 0, target-start+1)
	for page := start; page <= target; page++ {
		if ctx.Err() != nil {
			break
		}
		pt, err := lookup(ctx, page)
		if err != nil {
			continue
		}
		pages = append(pages, pt)
	}
	return pages
}
