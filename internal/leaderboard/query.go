// Package leaderboard pages through the trader explorer over the same stream
// the trader reports use, and turns its tables into the csv that fetch reads.
package leaderboard

import (
	"regexp"
	"slices"
	"strconv"

	"hashdive-scraper/internal/codec"
	"hashdive-scraper/internal/extract"
)

// Query is the explorer page and its filter widgets. Widget ids are derived
// from the page source, they change when the page is redeployed.
type Query struct {
	Path                string         `json:"path"`
	ScriptHash          string         `json:"script_hash"`
	PageWidget          string         `json:"page_widget"`
	Filters             []codec.Widget `json:"filters"`
	CachedMessageHashes []string       `json:"cached_message_hashes"`
}

// DefaultQuery lists traders by score, keeping scores between 21 and 99.
func DefaultQuery() Query {
	return Query{
		Path:       "Trader_explorer",
		ScriptHash: "95cbe618bfafb7437263346d6c8503d2",
		PageWidget: "$$ID-7a46b1f0524835f00b5ba274521d8f7f-None",
		Filters: []codec.Widget{
			codec.IntWidget("$$ID-0cb17bdcbd1740d63048e184ffcfb05a-None", 1),
			codec.IntWidget("$$ID-722e11493fb8cf2cc3c629fa05297af5-None", 49180),
			codec.DoubleWidget("$$ID-963aac8d9b3cf128d81781468ba5cd07-None", -10021171.71951889),
			codec.DoubleWidget("$$ID-a7a5308fbc35e070dc7fd49c2447e848-None", 22053933.752321757),
			codec.StringWidget("$$ID-b91c6ad4c45863922c3dcea830dc6929-None", "Score"),
			codec.DoubleArrayWidget("$$ID-014928b09ab447e44c83623b196b2267-None", 21, 99),
			codec.DoubleArrayWidget("$$ID-67cb5ea9255d46ef710a70b99a6299b7-None", 0, 100),
			codec.IntWidget("$$ID-433bd2cd7fb93bbe0a44103640794828-None", 0),
		},
		CachedMessageHashes: []string{"3a41fe9df8c1ade2604e52d289d709d6"},
	}
}

// Tree builds the rerun request for one 1-based page.
func (q Query) Tree(opts codec.RequestOptions, page int) map[string]any {
	widgets := slices.Clone(q.Filters)
	widgets = append(widgets, codec.IntWidget(q.PageWidget, int64(page)))
	return codec.RerunTree(opts, codec.Rerun{
		PagePath:            q.Path,
		PageScriptHash:      q.ScriptHash,
		Widgets:             widgets,
		CachedMessageHashes: q.CachedMessageHashes,
	})
}

var pageCountPattern = regexp.MustCompile(`Page\s+\d+\s+of\s+(\d+)`)

// PageCount reads the "Page N of M" caption, ok is false for any other message.
func PageCount(tree map[string]any) (count int, ok bool) {
	markdown, _ := extract.NewElement(tree)["markdown"].(map[string]any)
	body, _ := markdown["body"].(string)
	match := pageCountPattern.FindStringSubmatch(body)
	if match == nil {
		return 0, false
	}
	count, err := strconv.Atoi(match[1])
	if err != nil || count <= 0 {
		return 0, false
	}
	return count, true
}
