// Package convert flattens stored records into one csv row per trader.
package convert

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"hashdive-scraper/internal/components/assert"
	"hashdive-scraper/internal/components/telemetry"
	"hashdive-scraper/internal/record"

	"github.com/antzucaro/matchr"
)

const report_convert_read = "convert.read"

var TraderTypes = []string{
	"Bagholder", "Contrarian", "Lottery Ticket", "New", "Novice",
	"Reverse Cramer", "Senior", "Trend Follower", "Veteran",
	"Waiting for the Money", "Whale Splash",
}

var BetRanges = []string{"0.0", "0.1", "0.2", "0.3", "0.4", "0.5", "0.6", "0.7", "0.8", "0.9"}

var Categories = []string{"Politics", "Sport", "Music", "Crypto", "Mentions", "Weather", "Culture", "Other"}

var CategoryMetrics = []string{"most_traded_categories", "smart_score_categories", "win_rate_categories"}

// tag spellings this close to a known trader type count as that type
const tagSimilarity = 0.92

type column struct {
	name string
	// missing is written when the record has no such key at all
	missing string
}

var scalarColumns = []column{
	{name: record.FieldIdentifier, missing: ""},
	{name: "total_positions", missing: "0"},
	{name: "current_balance", missing: "0"},
	{name: "rank_1d_place", missing: ""},
	{name: "rank_1d_amount", missing: ""},
	{name: "smart_score", missing: "0"},
	{name: "total_pnl", missing: "0"},
	{name: "traded_usd_volume_last_30d_sum", missing: "0"},
	{name: "active_bets_amount", missing: "0"},
	{name: "finished_bets_amount", missing: "0"},
	{name: "finished_bets_pnl", missing: "0"},
	{name: "best_trade_roi_proc", missing: "0"},
	{name: "best_trade_roi_amount", missing: "0"},
	{name: "worst_trade_roi_proc", missing: "0"},
	{name: "worst_trade_roi_amount", missing: "0"},
	{name: "win_rate", missing: "0"},
	{name: "effective_count", missing: "0"},
	{name: "num_markets", missing: "0"},
}

// null total_pnl is written as zero rather than blank
var nullAsZero = map[string]bool{"total_pnl": true}

func snake(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}

func Header() []string {
	header := []string{}
	for _, c := range scalarColumns {
		header = append(header, c.name)
	}
	for _, t := range TraderTypes {
		header = append(header, "trader_type_"+snake(t))
	}
	for _, r := range BetRanges {
		header = append(header, "trader_bets_"+strings.ReplaceAll(r, ".", "_"))
	}
	for _, metric := range CategoryMetrics {
		for _, category := range Categories {
			header = append(header, metric+"_"+strings.ToLower(category))
		}
	}
	return header
}

// CanonicalTag maps a tag onto one of TraderTypes, tolerating small spelling
// differences.
func CanonicalTag(tag string) (string, bool) {
	lowered := strings.ToLower(strings.TrimSpace(tag))
	if lowered == "" {
		return "", false
	}

	best := ""
	var bestSimilarity float64
	for _, known := range TraderTypes {
		target := strings.ToLower(known)
		if target == lowered {
			return known, true
		}
		similarity := matchr.JaroWinkler(lowered, target, false)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			best = known
		}
	}
	if bestSimilarity >= tagSimilarity {
		return best, true
	}
	return "", false
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func lookup(m map[string]any, key string) string {
	value, ok := m[key]
	if !ok || value == nil {
		return "0"
	}
	return formatValue(value)
}

func nested(value any) map[string]any {
	m, _ := value.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Flatten produces the csv row of a record in Header order.
func Flatten(rec record.Record) []string {
	row := []string{}
	for _, c := range scalarColumns {
		value, ok := rec[c.name]
		switch {
		case !ok:
			row = append(row, c.missing)
		case value == nil && nullAsZero[c.name]:
			row = append(row, "0")
		default:
			row = append(row, formatValue(value))
		}
	}

	present := map[string]bool{}
	tags, _ := rec.TraderTypes()
	for _, tag := range tags {
		canonical, ok := CanonicalTag(tag)
		if ok {
			present[canonical] = true
		}
	}
	for _, t := range TraderTypes {
		if present[t] {
			row = append(row, "1")
		} else {
			row = append(row, "0")
		}
	}

	buckets := nested(rec["where_trader_bets_most"])
	for _, r := range BetRanges {
		row = append(row, lookup(buckets, r))
	}

	metrics := nested(rec[record.FieldCategoryMetrics])
	for _, metric := range CategoryMetrics {
		values := nested(metrics[metric])
		for _, category := range Categories {
			row = append(row, lookup(values, category))
		}
	}
	return row
}

type Report struct {
	Converted int
	Failed    []string
}

// WriteStore writes every readable record in store as csv, records that fail
// to read are reported and skipped.
func WriteStore(w io.Writer, store record.Store, tel telemetry.API) (Report, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("convert", tel)

	ids, err := store.List()
	if err != nil {
		return Report{}, err
	}

	out := csv.NewWriter(w)
	err = out.Write(Header())
	if err != nil {
		return Report{}, err
	}

	report := Report{}
	for _, id := range ids {
		rec, err := store.Read(id)
		if err != nil {
			tel.ReportWarning(report_convert_read, id, err)
			report.Failed = append(report.Failed, id)
			continue
		}
		err = out.Write(Flatten(rec))
		if err != nil {
			return report, err
		}
		report.Converted++
	}
	out.Flush()
	return report, out.Error()
}
