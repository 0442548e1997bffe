package codec

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"hashdive-scraper/lib/timezone"
)

// RequestOptions describe the page rerun that produces a trader report.
type RequestOptions struct {
	PageName       string `json:"page_name"`
	PageBaseURL    string `json:"page_base_url"`
	QueryKey       string `json:"query_key"`
	Timezone       string `json:"timezone"`
	TimezoneOffset int    `json:"timezone_offset"`
	Locale         string `json:"locale"`
	ColorScheme    string `json:"color_scheme"`
}

func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		PageName:       "Analyze_User",
		PageBaseURL:    "https://hashdive.com/",
		QueryKey:       "user_address",
		Timezone:       "Europe/Istanbul",
		TimezoneOffset: -180,
		Locale:         "en-US",
		ColorScheme:    "light",
	}
}

// WithZoneOffset replaces TimezoneOffset with the one a browser in Timezone
// would report at the given instant.
func (o RequestOptions) WithZoneOffset(at time.Time) (RequestOptions, error) {
	offset, err := timezone.BrowserOffset(o.Timezone, at)
	if err != nil {
		return o, fmt.Errorf("timezone %q: %w", o.Timezone, err)
	}
	o.TimezoneOffset = offset
	return o, nil
}

// Widget is the value of one widget in a rerun request, exactly one of the
// value fields is set.
type Widget struct {
	ID          string    `json:"id"`
	IntValue    *int64    `json:"int_value,omitempty"`
	DoubleValue *float64  `json:"double_value,omitempty"`
	StringValue *string   `json:"string_value,omitempty"`
	DoubleArray []float64 `json:"double_array,omitempty"`
}

func IntWidget(id string, value int64) Widget {
	return Widget{ID: id, IntValue: &value}
}

func DoubleWidget(id string, value float64) Widget {
	return Widget{ID: id, DoubleValue: &value}
}

func StringWidget(id string, value string) Widget {
	return Widget{ID: id, StringValue: &value}
}

func DoubleArrayWidget(id string, values ...float64) Widget {
	return Widget{ID: id, DoubleArray: values}
}

func (w Widget) tree() map[string]any {
	out := map[string]any{"id": w.ID}
	switch {
	case w.IntValue != nil:
		out["intValue"] = *w.IntValue
	case w.DoubleValue != nil:
		out["doubleValue"] = *w.DoubleValue
	case w.StringValue != nil:
		out["stringValue"] = *w.StringValue
	case w.DoubleArray != nil:
		data := make([]any, len(w.DoubleArray))
		for i, v := range w.DoubleArray {
			data[i] = v
		}
		out["doubleArrayValue"] = map[string]any{"data": data}
	}
	return out
}

// Rerun describes one script rerun. PagePath is appended to the page base url
// of the request options.
type Rerun struct {
	QueryString         string
	PageName            string
	PagePath            string
	PageScriptHash      string
	Widgets             []Widget
	CachedMessageHashes []string
}

// RerunTree builds a rerun request, ready to be encoded with the request schema.
func RerunTree(opts RequestOptions, rerun Rerun) map[string]any {
	widgetStates := map[string]any{}
	if len(rerun.Widgets) > 0 {
		widgets := make([]any, len(rerun.Widgets))
		for i, w := range rerun.Widgets {
			widgets[i] = w.tree()
		}
		widgetStates["widgets"] = widgets
	}

	script := map[string]any{
		"queryString":    rerun.QueryString,
		"widgetStates":   widgetStates,
		"pageScriptHash": rerun.PageScriptHash,
		"pageName":       rerun.PageName,
		"contextInfo": map[string]any{
			"timezone":       opts.Timezone,
			"timezoneOffset": opts.TimezoneOffset,
			"locale":         opts.Locale,
			"url":            strings.TrimSuffix(opts.PageBaseURL, "/") + "/" + rerun.PagePath,
			"isEmbedded":     false,
			"colorScheme":    opts.ColorScheme,
		},
	}
	if len(rerun.CachedMessageHashes) > 0 {
		hashes := make([]any, len(rerun.CachedMessageHashes))
		for i, h := range rerun.CachedMessageHashes {
			hashes[i] = h
		}
		script["cachedMessageHashes"] = hashes
	}
	return map[string]any{"rerunScript": script}
}

// RequestTree builds the rerun request for one identifier.
func RequestTree(opts RequestOptions, identifier string) map[string]any {
	query := url.Values{}
	query.Set(opts.QueryKey, identifier)

	return RerunTree(opts, Rerun{
		QueryString: query.Encode(),
		PageName:    opts.PageName,
		PagePath:    opts.PageName,
	})
}
