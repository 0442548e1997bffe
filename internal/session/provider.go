package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"hashdive-scraper/internal/components/assert"
	"hashdive-scraper/internal/components/telemetry"
)

const (
	report_provider_resolve = "provider.resolve"
)

const (
	NameAnonymousID = "ajs_anonymous_id"
	NameUser        = "_streamlit_user"
	NameXsrf        = "_streamlit_xsrf"
)

// RequiredNames are the tokens needed to open a stream.
var RequiredNames = []string{NameAnonymousID, NameUser, NameXsrf}

var ErrCredentialMissing = errors.New("credential missing")

// MissingError lists every required token that could not be resolved.
type MissingError struct {
	Names []string
	// Cause is the cookie store failure, if the store was consulted and failed.
	Cause error
}

func (e *MissingError) Error() string {
	msg := fmt.Sprintf("credential missing: %s", strings.Join(e.Names, ", "))
	if e.Cause != nil {
		msg += fmt.Sprintf(" (cookie store: %s)", e.Cause.Error())
	}
	return msg
}

func (e *MissingError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrCredentialMissing}
	}
	return []error{ErrCredentialMissing, e.Cause}
}

// CookieStore reads cookies from some local source.
//
// note: fault injection point
type CookieStore interface {
	// Cookies returns the values of the given cookie names set for domain,
	// names that are not found are simply absent from the result.
	Cookies(ctx context.Context, domain string, names []string) (map[string]string, error)
}

type Config struct {
	Domain string
	Names  []string
	// Overrides holds manually supplied tokens. A name that is present with a
	// non-empty value is used as is, any other name falls through to the cookie store.
	Overrides map[string]string
}

// Source tells where a resolved token came from.
type Source string

const (
	SourceOverride Source = "override"
	SourceStore    Source = "cookie_store"
)

// Credentials is a fully resolved set of tokens.
type Credentials struct {
	values  map[string]string
	sources map[string]Source
}

func NewCredentials(values map[string]string) Credentials {
	sources := map[string]Source{}
	for name := range values {
		sources[name] = SourceOverride
	}
	return Credentials{values: values, sources: sources}
}

func (c Credentials) Get(name string) string {
	return c.values[name]
}

func (c Credentials) Source(name string) Source {
	return c.sources[name]
}

// Names returns the token names in lexical order.
func (c Credentials) Names() []string {
	names := make([]string, 0, len(c.values))
	for name := range c.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CookieHeader renders the tokens as the value of a Cookie request header.
func (c Credentials) CookieHeader() string {
	parts := []string{}
	for _, name := range c.Names() {
		parts = append(parts, fmt.Sprintf("%s=%s", name, c.values[name]))
	}
	return strings.Join(parts, "; ")
}

type Provider struct {
	cfg   Config
	store CookieStore
	tel   telemetry.API
}

// NewProvider creates a Provider, store may be nil in which case only overrides are used.
func NewProvider(cfg Config, store CookieStore, tel telemetry.API) Provider {
	assert.NotEmptyStr(cfg.Domain)
	assert.NotNil(tel)
	if len(cfg.Names) == 0 {
		cfg.Names = RequiredNames
	}
	return Provider{
		cfg:   cfg,
		store: store,
		tel:   telemetry.NewScopedAPI("session", tel),
	}
}

// Lookup resolves as many tokens as it can and returns the names it could not
// resolve along with the cookie store failure, if any.
func (p Provider) Lookup(ctx context.Context) (creds Credentials, missing []string, storeErr error) {
	creds = Credentials{
		values:  map[string]string{},
		sources: map[string]Source{},
	}

	pending := []string{}
	for _, name := range p.cfg.Names {
		value := p.cfg.Overrides[name]
		if value == "" {
			pending = append(pending, name)
			continue
		}
		creds.values[name] = value
		creds.sources[name] = SourceOverride
	}

	if len(pending) > 0 && p.store != nil {
		found, err := p.store.Cookies(ctx, p.cfg.Domain, pending)
		if err != nil {
			storeErr = err
			p.tel.ReportBroken(report_provider_resolve, err)
		}
		for _, name := range pending {
			value := found[name]
			if value == "" {
				continue
			}
			creds.values[name] = value
			creds.sources[name] = SourceStore
		}
	}

	for _, name := range p.cfg.Names {
		if creds.values[name] == "" {
			missing = append(missing, name)
		}
	}
	return creds, missing, storeErr
}

// Resolve builds the credential set. Overrides win per token, the cookie
// store is only consulted when at least one token is not overridden. Any
// unresolved token fails with a *MissingError.
func (p Provider) Resolve(ctx context.Context) (Credentials, error) {
	creds, missing, storeErr := p.Lookup(ctx)
	if len(missing) > 0 {
		return Credentials{}, &MissingError{Names: missing, Cause: storeErr}
	}
	for _, name := range p.cfg.Names {
		p.tel.ReportDebug("resolved token", name, string(creds.sources[name]))
	}
	return creds, nil
}
