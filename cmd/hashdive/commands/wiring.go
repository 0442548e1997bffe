package commands

import (
	"fmt"

	"hashdive-scraper/internal/channel"
	"hashdive-scraper/internal/codec"
	"hashdive-scraper/internal/components/chrono"
	"hashdive-scraper/internal/components/telemetry"
	"hashdive-scraper/internal/session"
)

var tel telemetry.API = telemetry.SlogAPI{}

var clock chrono.API = chrono.NewStandardImpl()

// newProvider builds the credential provider, manualOnly never touches the
// browser and relies on the manual tokens in the config alone.
func newProvider(manualOnly bool) session.Provider {
	var store session.CookieStore
	if !manualOnly {
		store = session.NewChromeStore(cfg.Cookies.Chrome)
	}
	return session.NewProvider(session.Config{
		Domain:    cfg.Cookies.Domain,
		Names:     cfg.Cookies.Names,
		Overrides: cfg.Cookies.Manual,
	}, store, tel)
}

func newDialer() channel.Dialer {
	return channel.NewDialer(channel.Config{
		URL:               cfg.Endpoint.URL,
		Origin:            cfg.Endpoint.Origin,
		UserAgent:         cfg.Endpoint.UserAgent,
		Subprotocol:       cfg.Endpoint.Subprotocol,
		HandshakeAttempts: cfg.Endpoint.HandshakeAttempts,
		HandshakeBackoff:  cfg.Endpoint.HandshakeBackoff.Get(0),
	}, clock, tel)
}

func loadCodec() (codec.ProtoCodec, error) {
	c, err := codec.LoadDescriptorSet(cfg.Codec.DescriptorSet)
	if err != nil {
		return codec.ProtoCodec{}, fmt.Errorf("load schema description %s: %w", cfg.Codec.DescriptorSet, err)
	}
	return c, nil
}
