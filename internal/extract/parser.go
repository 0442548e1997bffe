package extract

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"hashdive-scraper/lib/htmlutil"
	"hashdive-scraper/lib/jsonutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("hashdive/internal/extract")

const polymarketProfile = "https://polymarket.com/profile/"

// Fields every parse result carries, absent values stay nil.
var Fields = []string{
	"trader_types",
	"total_positions",
	"active_since_date",
	"active_since_days",
	"current_balance",
	"polymarket_url",
	"rank_1d_place",
	"rank_1d_amount",
	"rank_7d_place",
	"rank_7d_amount",
	"rank_30d_place",
	"rank_30d_amount",
	"rank_all_time_place",
	"rank_all_time_amount",
	"smart_score",
	"total_pnl",
	"sharpe_ratio",
	"traded_usd_volume_last_30d_sum",
	"active_bets_amount",
	"active_bets_pnl",
	"finished_bets_amount",
	"finished_bets_pnl",
	"best_trade_roi_proc",
	"best_trade_roi_amount",
	"worst_trade_roi_proc",
	"worst_trade_roi_amount",
	"where_trader_bets_most",
	"category_metrics",
}

var (
	reTraderType     = regexp.MustCompile(`:.*?\[(.*?)\]`)
	reMaterialIcon   = regexp.MustCompile(`:material/[^\s]+\s*`)
	reParenthesised  = regexp.MustCompile(`\s*\([^)]+\)\s*`)
	reTotalPositions = regexp.MustCompile(`>(\d+)</div>`)
	reActiveDate     = regexp.MustCompile(`color: #312e81;">([A-Za-z]+ \d{4})</div>`)
	reActiveDays     = regexp.MustCompile(`color: #1e1b4b;">(\d+) days</div>`)
	reBalance        = regexp.MustCompile(`<span>([\d,]+\.?\d*)</span>`)
	reProfileURL     = regexp.MustCompile(`href="(https://polymarket\.com/profile/[^"]+)"`)
	reRankPlace      = regexp.MustCompile(`Rank: #(\d+)`)
	reRankAmount     = regexp.MustCompile(`\$([\d.]+[kKmM]?)`)
	reSmartScore     = regexp.MustCompile(`Smart Score: <strong>([\d.]+)</strong>`)
	reTotalPnl       = regexp.MustCompile(`Total PnL: <strong>\$([\d,]+\.?\d*)</strong>`)
	reSharpe         = regexp.MustCompile(`Sharpe Ratio: <span>([\d.]+)</span>`)
	reVolume         = regexp.MustCompile(`\$([\d,]+)`)
	reBetsAmount     = regexp.MustCompile(`font-size: 26px[^>]*>\s*\$([\d,]+\.?\d*)`)
	reBetsPnl        = regexp.MustCompile(`PnL:.*?<span[^>]*>\s*\$([\d,]+\.?\d*)`)
	reTradePercent   = regexp.MustCompile(`>([+−\-]?[\d,]+\.?\d*)%<`)
	reTradeAmount    = regexp.MustCompile(`\(([+−\-]?)\$([\d,]+\.?\d*)\)`)
)

// Result is what one stream yields.
type Result struct {
	Fields map[string]any
	// Kinds counts the classified messages per kind.
	Kinds map[Kind]int
}

// NonNull counts the fields that carry a value.
func (r Result) NonNull() int {
	count := 0
	for _, value := range r.Fields {
		switch v := value.(type) {
		case nil:
		case []string:
			if len(v) > 0 {
				count++
			}
		case map[string]any:
			if len(v) > 0 {
				count++
			}
		case map[string]float64:
			if len(v) > 0 {
				count++
			}
		default:
			count++
		}
	}
	return count
}

// Parse classifies the decoded messages of one stream in order and pulls the
// record fields out of them. Messages that do not match the expected markup
// leave their fields nil, Parse never fails.
func Parse(ctx context.Context, messages []map[string]any) Result {
	ctx, span := tracer.Start(ctx, "Parse")
	defer span.End()

	fields := map[string]any{}
	for _, name := range Fields {
		fields[name] = nil
	}
	traderTypes := []string{}
	categories := map[string]any{}
	kinds := map[Kind]int{}

	classifier := NewClassifier()
	for _, tree := range messages {
		kind := classifier.Classify(tree)
		kinds[kind]++

		element := NewElement(tree)
		body := stringAt(element["markdown"], "body")

		switch kind {
		case KindTraderType:
			tag := traderType(body)
			if tag != "" && !contains(traderTypes, tag) {
				traderTypes = append(traderTypes, tag)
			}
		case KindTotalPositions:
			fields["total_positions"] = matchInt(reTotalPositions, body)
		case KindActiveSince:
			if m := reActiveDate.FindStringSubmatch(body); m != nil {
				fields["active_since_date"] = m[1]
			}
			fields["active_since_days"] = matchInt(reActiveDays, body)
		case KindCurrentBalance:
			fields["current_balance"] = matchFloat(reBalance, body)
		case KindPolymarketLink:
			fields["polymarket_url"] = profileURL(ctx, body)
		case KindRank1D:
			fields["rank_1d_place"], fields["rank_1d_amount"] = rank(body)
		case KindRank7D:
			fields["rank_7d_place"], fields["rank_7d_amount"] = rank(body)
		case KindRank30D:
			fields["rank_30d_place"], fields["rank_30d_amount"] = rank(body)
		case KindRankAllTime:
			fields["rank_all_time_place"], fields["rank_all_time_amount"] = rank(body)
		case KindSmartScoreSummary:
			fields["smart_score"] = matchFloat(reSmartScore, body)
			fields["total_pnl"] = matchFloat(reTotalPnl, body)
		case KindSharpeRatio:
			fields["sharpe_ratio"] = matchFloat(reSharpe, body)
		case KindTradedVolume30D:
			fields["traded_usd_volume_last_30d_sum"] = matchFloat(reVolume, stringAt(element["metric"], "body"))
		case KindActiveBetsSum:
			fields["active_bets_amount"] = matchFloat(reBetsAmount, body)
			fields["active_bets_pnl"] = matchFloat(reBetsPnl, body)
		case KindFinishedBetsSum:
			fields["finished_bets_amount"] = matchFloat(reBetsAmount, body)
			fields["finished_bets_pnl"] = matchFloat(reBetsPnl, body)
		case KindBestTrade:
			fields["best_trade_roi_proc"], fields["best_trade_roi_amount"] = trade(body)
		case KindWorstTrade:
			fields["worst_trade_roi_proc"], fields["worst_trade_roi_amount"] = trade(body)
		case KindWhereTraderBetsMost:
			if buckets := priceBuckets(stringAt(element["plotlyChart"], "spec")); buckets != nil {
				fields["where_trader_bets_most"] = buckets
			}
		case KindMostTradedCategories, KindSmartScoreByCategory, KindWinRateByCategory:
			if radar := radarValues(stringAt(element["plotlyChart"], "spec")); radar != nil {
				categories[categoryKey(kind)] = radar
			}
		}
	}

	fields["trader_types"] = traderTypes
	fields["category_metrics"] = categories

	result := Result{Fields: fields, Kinds: kinds}
	span.SetAttributes(
		attribute.Int("messages", len(messages)),
		attribute.Int("non_null", result.NonNull()),
		attribute.StringSlice("trader_types", traderTypes),
	)
	return result
}

func categoryKey(kind Kind) string {
	switch kind {
	case KindMostTradedCategories:
		return "most_traded_categories"
	case KindSmartScoreByCategory:
		return "smart_score_categories"
	case KindWinRateByCategory:
		return "win_rate_categories"
	default:
		panic(fmt.Sprintf("no category key for %s", kind))
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func traderType(body string) string {
	m := reTraderType.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	tag := reMaterialIcon.ReplaceAllString(m[1], "")
	tag = reParenthesised.ReplaceAllString(tag, "")
	return strings.TrimSpace(tag)
}

func profileURL(ctx context.Context, body string) any {
	if anchor, ok := htmlutil.FindAnchor(ctx, body, polymarketProfile); ok {
		return anchor.Href
	}
	if m := reProfileURL.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return nil
}

func rank(body string) (place, amount any) {
	if m := reRankPlace.FindStringSubmatch(body); m != nil {
		place = "#" + m[1]
	}
	if m := reRankAmount.FindStringSubmatch(body); m != nil {
		amount = "$" + m[1]
	}
	return place, amount
}

func trade(body string) (percent, amount any) {
	if m := reTradePercent.FindStringSubmatch(body); m != nil {
		if v, ok := parseNumber(strings.ReplaceAll(strings.ReplaceAll(m[1], "−", "-"), "+", "")); ok {
			percent = v
		}
	}
	if m := reTradeAmount.FindStringSubmatch(body); m != nil {
		sign := ""
		if m[1] == "−" || m[1] == "-" {
			sign = "-"
		}
		if v, ok := parseNumber(sign + m[2]); ok {
			amount = v
		}
	}
	return percent, amount
}

// parseNumber accepts thousands separators.
func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func matchFloat(re *regexp.Regexp, s string) any {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	v, ok := parseNumber(m[1])
	if !ok {
		return nil
	}
	return v
}

func matchInt(re *regexp.Regexp, s string) any {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	return v
}

type chartSpec struct {
	Data []struct {
		X     []any     `json:"x"`
		Y     []float64 `json:"y"`
		Theta []any     `json:"theta"`
		R     []float64 `json:"r"`
	} `json:"data"`
}

func parseSpec(spec string) (chartSpec, bool) {
	if spec == "" {
		return chartSpec{}, false
	}
	parsed := chartSpec{}
	err := jsonutil.Unmarshal([]byte(spec), &parsed)
	if err != nil || len(parsed.Data) == 0 {
		return chartSpec{}, false
	}
	return parsed, true
}

func label(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// priceBuckets maps each bar of the first trace to its height, rounded to
// two decimals.
func priceBuckets(spec string) map[string]float64 {
	parsed, ok := parseSpec(spec)
	if !ok {
		return nil
	}
	trace := parsed.Data[0]
	out := map[string]float64{}
	for i, x := range trace.X {
		if i >= len(trace.Y) {
			break
		}
		out[label(x)] = math.Round(trace.Y[i]*100) / 100
	}
	return out
}

// radarValues maps each category of a polar chart to its value, the closing
// point that repeats the first category is dropped.
func radarValues(spec string) map[string]float64 {
	parsed, ok := parseSpec(spec)
	if !ok {
		return nil
	}
	theta := parsed.Data[0].Theta
	r := parsed.Data[0].R
	if len(theta) > 1 && label(theta[0]) == label(theta[len(theta)-1]) {
		theta = theta[:len(theta)-1]
		if len(r) > len(theta) {
			r = r[:len(theta)]
		}
	}
	out := map[string]float64{}
	for i, category := range theta {
		if i >= len(r) {
			break
		}
		out[label(category)] = r[i]
	}
	return out
}
