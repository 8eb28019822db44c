// Package search discovers candidate ordinance documents on the public
// web. The Engine contract isolates the pipeline from the concrete
// provider; the shipped implementation drives a headless browser against
// DuckDuckGo's HTML frontend.
package search

import (
	"context"
	"fmt"
)

// Engine returns one result list per query, in query order, each holding
// up to n URLs. A failed query yields an empty list rather than an
// error; Results errors only when the engine itself cannot run at all.
type Engine interface {
	Results(ctx context.Context, queries []string, n int) ([][]string, error)
}

// queryTemplates are instantiated with a location's full name. County
// ordinances publish under many titles, so the set covers the common
// phrasings.
var queryTemplates = []string{
	"%s wind energy conversion system ordinance",
	"%s wind energy ordinance",
	"%s wind turbine setback requirements",
	"%s zoning ordinance wind",
}

// Queries renders the fixed query set for one location's full name.
func Queries(location string) []string {
	queries := make([]string, len(queryTemplates))
	for i, tmpl := range queryTemplates {
		queries[i] = fmt.Sprintf(tmpl, location)
	}
	return queries
}

// CollectURLs merges per-query result lists into up to k unique URLs.
// Lists are consumed round-robin so every query contributes its best
// hits before any query contributes its tail. Order within a rank
// follows query order; duplicates keep their first position.
func CollectURLs(lists [][]string, k int) []string {
	if k <= 0 {
		return nil
	}

	urls := make([]string, 0, k)
	seen := make(map[string]struct{}, k)
	for rank := 0; ; rank++ {
		exhausted := true
		for _, list := range lists {
			if rank >= len(list) {
				continue
			}
			exhausted = false
			u := list[rank]
			if u == "" {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
			if len(urls) == k {
				return urls
			}
		}
		if exhausted {
			return urls
		}
	}
}
