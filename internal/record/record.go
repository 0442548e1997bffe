package record

import (
	"time"
)

const (
	FieldIdentifier      = "user_address"
	FieldTraderTypes     = "trader_types"
	FieldFetchedAt       = "fetched_at"
	FieldCategoryMetrics = "category_metrics"
)

// Record is the flat, merged document stored for one trader.
type Record map[string]any

func (r Record) Identifier() string {
	id, _ := r[FieldIdentifier].(string)
	return id
}

// TraderTypes returns the classification tags, ok is false when the field is
// absent or is not a list.
func (r Record) TraderTypes() (tags []string, ok bool) {
	switch value := r[FieldTraderTypes].(type) {
	case []string:
		return value, true
	case []any:
		tags = make([]string, 0, len(value))
		for _, v := range value {
			if s, isStr := v.(string); isStr {
				tags = append(tags, s)
			}
		}
		return tags, true
	default:
		return nil, false
	}
}

// HasNoTags is true only when the tag list is present and empty, a record
// without the field at all is not considered empty.
func (r Record) HasNoTags() bool {
	tags, ok := r.TraderTypes()
	return ok && len(tags) == 0
}

// Row is one line of the tabular input, Fields excludes the identifier.
type Row struct {
	Identifier string
	Fields     map[string]any
}

// fields copied from the tabular input into every record
var tabularFields = []string{
	"win_rate",
	"effective_count",
	"num_markets",
	"score",
	"sum_pnl",
	"block_watermark",
}

// Merge combines the extracted fields with the tabular row. Extracted values
// win on collision except the identifier, which always comes from the row.
func Merge(row Row, extracted map[string]any, fetchedAt time.Time) Record {
	out := Record{}
	for _, name := range tabularFields {
		value, ok := row.Fields[name]
		if ok && value != nil {
			out[name] = value
		}
	}
	for key, value := range extracted {
		out[key] = value
	}
	if _, ok := out[FieldTraderTypes]; !ok {
		out[FieldTraderTypes] = []string{}
	}
	out[FieldIdentifier] = row.Identifier
	out[FieldFetchedAt] = fetchedAt.UTC().Format(time.RFC3339)
	return out
}
