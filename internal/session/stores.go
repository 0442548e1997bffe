package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// StaticStore serves cookies from memory, keyed by domain then name.
type StaticStore map[string]map[string]string

func (s StaticStore) Cookies(_ context.Context, domain string, names []string) (map[string]string, error) {
	out := map[string]string{}
	for cookieDomain, cookies := range s {
		if !domainMatches(domain, cookieDomain) {
			continue
		}
		for _, name := range names {
			if value, ok := cookies[name]; ok {
				out[name] = value
			}
		}
	}
	return out, nil
}

// domainMatches reports whether a cookie set for cookieDomain applies to domain,
// `.hashdive.com` and `hashdive.com` both match `hashdive.com`.
func domainMatches(domain, cookieDomain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	cookieDomain = strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	if cookieDomain == "" {
		return false
	}
	return domain == cookieDomain ||
		strings.HasSuffix(domain, "."+cookieDomain) ||
		strings.HasSuffix(cookieDomain, "."+domain)
}

type ChromeConfig struct {
	// ProfileDir is the chrome user data directory to read cookies from, chrome
	// refuses to open a profile that another running instance holds.
	ProfileDir string `json:"profile_dir"`
	// Bin overrides the chrome binary, empty means let rod find or download one.
	Bin string `json:"bin"`
	// RemoteURL is the devtools websocket of an already running chrome started
	// with --remote-debugging-port, when set nothing is launched.
	RemoteURL string `json:"remote_url"`
}

// ChromeStore reads cookies out of a local chrome profile through the devtools protocol.
type ChromeStore struct {
	cfg ChromeConfig
}

func NewChromeStore(cfg ChromeConfig) ChromeStore {
	return ChromeStore{cfg: cfg}
}

func (s ChromeStore) connect(ctx context.Context) (*rod.Browser, func(), error) {
	controlURL := s.cfg.RemoteURL
	cleanup := func() {}

	if controlURL == "" {
		l := launcher.New().Context(ctx).Headless(true)
		if s.cfg.ProfileDir != "" {
			l = l.UserDataDir(s.cfg.ProfileDir)
		}
		if s.cfg.Bin != "" {
			l = l.Bin(s.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("chrome: launch: %w", err)
		}
		controlURL = u
		// Kill and not Cleanup, Cleanup removes the user data dir.
		cleanup = l.Kill
	}

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	err := browser.Connect()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("chrome: connect: %w", err)
	}
	if s.cfg.RemoteURL != "" {
		return browser, func() {}, nil
	}
	return browser, func() {
		browser.Close()
		cleanup()
	}, nil
}

func (s ChromeStore) Cookies(ctx context.Context, domain string, names []string) (map[string]string, error) {
	browser, done, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	cookies, err := browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("chrome: get cookies: %w", err)
	}
	return filterCookies(cookies, domain, names), nil
}

func filterCookies(cookies []*proto.NetworkCookie, domain string, names []string) map[string]string {
	wanted := map[string]bool{}
	for _, name := range names {
		wanted[name] = true
	}
	out := map[string]string{}
	for _, cookie := range cookies {
		if !wanted[cookie.Name] || !domainMatches(domain, cookie.Domain) {
			continue
		}
		out[cookie.Name] = cookie.Value
	}
	return out
}
