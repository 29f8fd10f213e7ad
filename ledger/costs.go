package ledger

import "math"

// Cost formulas for the crawl workflow. Both are pure: they consume no
// credits and may be called any number of times, e.g. for quoting a price
// to the user before reserving.

// CrawlCost prices a crawl of the given page count and depth, plus any
// custom checks. Depth beyond the first level costs half a page per level.
func CrawlCost(pages, depth, customChecks int) int64 {
	extraDepth := float64(depth - 1)
	if extraDepth < 0 {
		extraDepth = 0
	}
	cost := float64(pages)*(1+extraDepth*0.5) + float64(customChecks)*2
	return int64(math.Ceil(cost))
}

// RecheckCost prices re-verifying previously found issues at half a credit
// per issue.
func RecheckCost(issueCount int) int64 {
	return int64(math.Ceil(float64(issueCount) * 0.5))
}
