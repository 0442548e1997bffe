package commands

import (
	"errors"
	"fmt"
	"time"

	"hashdive-scraper/internal/acquire"
	"hashdive-scraper/internal/codec"
	"hashdive-scraper/internal/leaderboard"
	"hashdive-scraper/internal/session"
	configlibsql "hashdive-scraper/lib/configutil/libsql"
)

// Duration reads "1s", "500ms" style strings out of the config file.
type Duration string

// Parse fails on a value time.ParseDuration rejects, an empty value is valid.
func (d Duration) Parse() (time.Duration, error) {
	if d == "" {
		return 0, nil
	}
	parsed, err := time.ParseDuration(string(d))
	if err != nil {
		return 0, err
	}
	if parsed < 0 {
		return 0, fmt.Errorf("negative duration %q", string(d))
	}
	return parsed, nil
}

// Get returns fallback for an empty or invalid value, Validate reports the
// invalid ones before Get is ever reached.
func (d Duration) Get(fallback time.Duration) time.Duration {
	if d == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(string(d))
	if err != nil {
		return fallback
	}
	return parsed
}

type EndpointConfig struct {
	URL               string   `json:"url"`
	Origin            string   `json:"origin"`
	UserAgent         string   `json:"user_agent"`
	Subprotocol       string   `json:"subprotocol"`
	HandshakeAttempts int      `json:"handshake_attempts"`
	HandshakeBackoff  Duration `json:"handshake_backoff"`
}

type CookieConfig struct {
	Domain string               `json:"domain"`
	Names  []string             `json:"names"`
	Chrome session.ChromeConfig `json:"chrome"`
	Manual map[string]string    `json:"manual"`
}

type CodecConfig struct {
	DescriptorSet  string `json:"descriptor_set"`
	RequestSchema  string `json:"request_schema"`
	ResponseSchema string `json:"response_schema"`
}

type PathConfig struct {
	Input    string              `json:"input"`
	Pages    string              `json:"pages"`
	Records  string              `json:"records"`
	Messages string              `json:"messages"`
	Logs     string              `json:"logs"`
	Ledger   configlibsql.Struct `json:"ledger"`
}

type TimingConfig struct {
	PerMessageTimeout Duration `json:"per_message_timeout"`
	TotalTimeout      Duration `json:"total_timeout"`
	InterRequestDelay Duration `json:"inter_request_delay"`
	MaxMessages       int      `json:"max_messages"`
}

// LeaderboardConfig drives the pages command, its timings are per page.
type LeaderboardConfig struct {
	Query        leaderboard.Query `json:"query"`
	TotalTimeout Duration          `json:"total_timeout"`
	SettleDelay  Duration          `json:"settle_delay"`
	PageDelay    Duration          `json:"page_delay"`
	MaxMessages  int               `json:"max_messages"`
	MaxPages     int               `json:"max_pages"`
}

type Config struct {
	Endpoint    EndpointConfig       `json:"endpoint"`
	Cookies     CookieConfig         `json:"cookies"`
	Codec       CodecConfig          `json:"codec"`
	Request     codec.RequestOptions `json:"request"`
	Paths       PathConfig           `json:"paths"`
	Timing      TimingConfig         `json:"timing"`
	Leaderboard LeaderboardConfig    `json:"leaderboard"`
}

func DefaultConfig() Config {
	return Config{
		Endpoint: EndpointConfig{
			URL:               "wss://hashdive.com/_stcore/stream",
			Origin:            "https://hashdive.com",
			UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
			Subprotocol:       "streamlit",
			HandshakeAttempts: 3,
			HandshakeBackoff:  "2s",
		},
		Cookies: CookieConfig{
			Domain: "hashdive.com",
			Names:  session.RequiredNames,
		},
		Codec: CodecConfig{
			DescriptorSet:  "proto/streamlit.binpb",
			RequestSchema:  "BackMsg",
			ResponseSchema: "ForwardMsg",
		},
		Request: codec.DefaultRequestOptions(),
		Paths: PathConfig{
			Input:    "data/users.csv",
			Pages:    "data/pages",
			Records:  "data/users",
			Messages: "logs/messages",
			Logs:     "logs",
			Ledger:   configlibsql.Struct{File: "data/runs.db"},
		},
		Timing: TimingConfig{
			PerMessageTimeout: "5s",
			TotalTimeout:      "30s",
			InterRequestDelay: "1s",
			MaxMessages:       300,
		},
		Leaderboard: LeaderboardConfig{
			Query:        leaderboard.DefaultQuery(),
			TotalTimeout: "30s",
			SettleDelay:  "1s",
			PageDelay:    "500ms",
			MaxMessages:  100,
		},
	}
}

// Validate checks every duration in the config.
func (c Config) Validate() error {
	durations := []struct {
		key   string
		value Duration
	}{
		{"endpoint.handshake_backoff", c.Endpoint.HandshakeBackoff},
		{"timing.per_message_timeout", c.Timing.PerMessageTimeout},
		{"timing.total_timeout", c.Timing.TotalTimeout},
		{"timing.inter_request_delay", c.Timing.InterRequestDelay},
		{"leaderboard.total_timeout", c.Leaderboard.TotalTimeout},
		{"leaderboard.settle_delay", c.Leaderboard.SettleDelay},
		{"leaderboard.page_delay", c.Leaderboard.PageDelay},
	}
	var errs []error
	for _, d := range durations {
		if _, err := d.value.Parse(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
		}
	}
	return errors.Join(errs...)
}

func (c Config) FetchOptions() acquire.Options {
	defaults := acquire.DefaultOptions()
	opts := acquire.Options{
		PerMessageTimeout: c.Timing.PerMessageTimeout.Get(defaults.PerMessageTimeout),
		TotalTimeout:      c.Timing.TotalTimeout.Get(defaults.TotalTimeout),
		InterRequestDelay: c.Timing.InterRequestDelay.Get(defaults.InterRequestDelay),
		MaxMessages:       c.Timing.MaxMessages,
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaults.MaxMessages
	}
	return opts
}

func (c Config) LeaderboardOptions() leaderboard.Options {
	defaults := leaderboard.DefaultOptions()
	opts := leaderboard.Options{
		PerMessageTimeout: defaults.PerMessageTimeout,
		TotalTimeout:      c.Leaderboard.TotalTimeout.Get(defaults.TotalTimeout),
		SettleDelay:       c.Leaderboard.SettleDelay.Get(defaults.SettleDelay),
		PageDelay:         c.Leaderboard.PageDelay.Get(defaults.PageDelay),
		MaxMessages:       c.Leaderboard.MaxMessages,
		MaxPages:          c.Leaderboard.MaxPages,
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaults.MaxMessages
	}
	return opts
}

func (c Config) Schemas() acquire.Schemas {
	return acquire.Schemas{
		Request:  c.Codec.RequestSchema,
		Response: c.Codec.ResponseSchema,
	}
}
