package extract

import (
	"strings"

	"hashdive-scraper/lib/jsonutil"
)

// Kind is what a single forward message on the trader page carries.
type Kind string

const (
	KindTraderType           Kind = "trader_type"
	KindTraderTypeDesc       Kind = "trader_type_desc"
	KindTotalPositions       Kind = "stats_total_positions"
	KindActiveSince          Kind = "stats_active_since"
	KindCurrentBalance       Kind = "stats_current_balance"
	KindPolymarketLink       Kind = "view_on_polymarket"
	KindRank1D               Kind = "rank_1d"
	KindRank7D               Kind = "rank_7d"
	KindRank30D              Kind = "rank_30d"
	KindRankAllTime          Kind = "rank_alltime"
	KindSmartScoreSummary    Kind = "smart_score_summary"
	KindHistoricalPnlChart   Kind = "historical_pnl_chart"
	KindSharpeRatio          Kind = "sharpe_ratio"
	KindTradedVolume30D      Kind = "traded_volume_30d"
	KindActiveBetsSum        Kind = "active_bets_sum"
	KindActiveBetsTable      Kind = "active_bets_table"
	KindFinishedBetsSum      Kind = "finished_bets_sum"
	KindFinishedBetsTable    Kind = "finished_bets_table"
	KindBestTrade            Kind = "best_trade"
	KindWorstTrade           Kind = "worst_trade"
	KindDistributionROI      Kind = "distribution_roi"
	KindMostTradedCategories Kind = "most_traded_categories"
	KindSmartScoreByCategory Kind = "smart_score_by_category"
	KindWinRateByCategory    Kind = "win_rate_by_category"
	KindRecentTradesTable    Kind = "recent_trades_table"
	KindWhereTraderBetsMost  Kind = "where_trader_bets_most"
	KindUnknown              Kind = "unknown"
)

type marker struct {
	all  []string
	kind Kind
}

// checked in order, the first marker whose substrings are all present wins
var markers = []marker{
	{all: []string{">Total Positions<"}, kind: KindTotalPositions},
	{all: []string{">Active Since<"}, kind: KindActiveSince},
	{all: []string{"Current Balance\n"}, kind: KindCurrentBalance},
	{all: []string{">Current Balance<"}, kind: KindCurrentBalance},
	{all: []string{`<a href="https://polymarket.com/profile/`}, kind: KindPolymarketLink},
	{all: []string{">Rank: "}, kind: KindRank1D},
	{all: []string{"User Smart Score:"}, kind: KindSmartScoreSummary},
	{all: []string{"Historical PnL"}, kind: KindHistoricalPnlChart},
	{all: []string{"Sharpe Ratio:"}, kind: KindSharpeRatio},
	{all: []string{"Traded USD Volume (Last 30d, daily)"}, kind: KindTradedVolume30D},
	{all: []string{"Active Bets", "PnL:"}, kind: KindActiveBetsSum},
	{all: []string{"Finished Bets", "PnL:"}, kind: KindFinishedBetsSum},
	{all: []string{"Best trade (ROI):"}, kind: KindBestTrade},
	{all: []string{"Worst trade (ROI):"}, kind: KindWorstTrade},
	{all: []string{"Distribution of ROI weighted by invested capital"}, kind: KindDistributionROI},
	{all: []string{"Markets traded:"}, kind: KindMostTradedCategories},
	{all: []string{"Smart Score: %{r:.2f}"}, kind: KindSmartScoreByCategory},
	{all: []string{"Win Rate: %{r:.2%}"}, kind: KindWinRateByCategory},
	{all: []string{`"timestamp": {"label": "Timestamp"`, `"question": {"label": "Question"`}, kind: KindRecentTradesTable},
	{all: []string{"Where This Trader Bets Most"}, kind: KindWhereTraderBetsMost},
}

// Classifier labels the messages of one stream. Some kinds are only
// recognisable by position (the description after a trader type, the three
// ranks after the daily rank, the table after a bets summary) so a Classifier
// must see the messages in arrival order and must not be shared between streams.
type Classifier struct {
	last         Kind
	rankCount    int
	activeSeen   bool
	finishedSeen bool
}

func NewClassifier() *Classifier {
	return &Classifier{}
}

func (c *Classifier) Classify(tree map[string]any) Kind {
	element := NewElement(tree)
	content := Content(element)

	switch c.last {
	case KindTraderType:
		c.last = ""
		return KindTraderTypeDesc
	case KindActiveBetsSum:
		if !c.activeSeen {
			c.activeSeen = true
			c.last = ""
			if _, ok := element["arrowDataFrame"]; ok {
				return KindActiveBetsTable
			}
		}
	case KindFinishedBetsSum:
		if !c.finishedSeen {
			c.finishedSeen = true
			c.last = ""
			if _, ok := element["arrowDataFrame"]; ok {
				return KindFinishedBetsTable
			}
		}
	case KindRank1D:
		c.rankCount++
		switch c.rankCount {
		case 1:
			return KindRank7D
		case 2:
			return KindRank30D
		default:
			c.rankCount = 0
			c.last = ""
			return KindRankAllTime
		}
	}

	if strings.Contains(content, ":material/") {
		c.last = KindTraderType
		return KindTraderType
	}
	for _, m := range markers {
		if !containsAll(content, m.all) {
			continue
		}
		switch m.kind {
		case KindRank1D, KindActiveBetsSum, KindFinishedBetsSum:
			c.last = m.kind
		}
		return m.kind
	}
	return KindUnknown
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

// Content is the searchable text of an element: markdown body, metric label
// and body, chart spec and table columns joined by spaces.
func Content(element map[string]any) string {
	parts := []string{}
	if markdown, ok := element["markdown"]; ok {
		parts = append(parts, stringAt(markdown, "body"))
	}
	if metric, ok := element["metric"]; ok {
		parts = append(parts, stringAt(metric, "label"), stringAt(metric, "body"))
	}
	if chart, ok := element["plotlyChart"]; ok {
		parts = append(parts, stringAt(chart, "spec"))
	}
	if table, ok := element["arrowDataFrame"]; ok {
		parts = append(parts, columnsText(table))
	}
	return strings.Join(parts, " ")
}

func columnsText(table any) string {
	m, ok := table.(map[string]any)
	if !ok {
		return ""
	}
	switch columns := m["columns"].(type) {
	case nil:
		return ""
	case string:
		return columns
	default:
		encoded, err := jsonutil.Marshal(columns)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// NewElement returns the element a delta message adds, or an empty map.
func NewElement(tree map[string]any) map[string]any {
	delta, _ := tree["delta"].(map[string]any)
	element, _ := delta["newElement"].(map[string]any)
	if element == nil {
		return map[string]any{}
	}
	return element
}

func stringAt(node any, key string) string {
	m, ok := node.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// IsStreamComplete reports whether a forward message marks the end of a
// successful page run.
func IsStreamComplete(tree map[string]any) bool {
	status, _ := tree["scriptFinished"].(string)
	return status == "FINISHED_SUCCESSFULLY"
}
