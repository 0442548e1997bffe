package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"hashdive-scraper/internal/components/telemetry"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	inner StaticStore
	err   error
	calls int
	asked []string
}

func (s *countingStore) Cookies(ctx context.Context, domain string, names []string) (map[string]string, error) {
	s.calls++
	s.asked = append([]string(nil), names...)
	if s.err != nil {
		return nil, s.err
	}
	return s.inner.Cookies(ctx, domain, names)
}

func newProvider(overrides map[string]string, store CookieStore) (Provider, *telemetry.Recorder) {
	rec := telemetry.NewRecorder()
	return NewProvider(Config{Domain: "hashdive.com", Overrides: overrides}, store, rec), rec
}

func TestResolveFromStore(t *testing.T) {
	store := &countingStore{inner: StaticStore{
		".hashdive.com": {
			NameAnonymousID: "anon",
			NameUser:        "user",
			NameXsrf:        "xsrf",
			"unrelated":     "x",
		},
		"example.com": {NameXsrf: "wrong-domain"},
	}}
	provider, _ := newProvider(nil, store)

	creds, err := provider.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "xsrf", creds.Get(NameXsrf))
	require.Equal(t, SourceStore, creds.Source(NameUser))
	require.Equal(t, "_streamlit_user=user; _streamlit_xsrf=xsrf; ajs_anonymous_id=anon", creds.CookieHeader())
	require.Equal(t, 1, store.calls)
}

func TestResolveHybrid(t *testing.T) {
	store := &countingStore{inner: StaticStore{
		"hashdive.com": {
			NameAnonymousID: "store-anon",
			NameUser:        "store-user",
			NameXsrf:        "store-xsrf",
		},
	}}
	provider, _ := newProvider(map[string]string{
		NameXsrf:        "manual-xsrf",
		NameAnonymousID: "",
	}, store)

	creds, err := provider.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "manual-xsrf", creds.Get(NameXsrf))
	require.Equal(t, SourceOverride, creds.Source(NameXsrf))
	require.Equal(t, "store-anon", creds.Get(NameAnonymousID))
	require.Equal(t, SourceStore, creds.Source(NameAnonymousID))
	require.ElementsMatch(t, []string{NameAnonymousID, NameUser}, store.asked)
}

func TestResolveOverridesSkipStore(t *testing.T) {
	store := &countingStore{err: errors.New("profile locked")}
	provider, rec := newProvider(map[string]string{
		NameAnonymousID: "a",
		NameUser:        "u",
		NameXsrf:        "x",
	}, store)

	_, err := provider.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, store.calls)
	require.Empty(t, rec.Reports(telemetry.LevelWarning))
}

func TestResolveMissing(t *testing.T) {
	store := &countingStore{inner: StaticStore{
		"hashdive.com": {NameAnonymousID: "anon", NameUser: "user"},
	}}
	provider, _ := newProvider(nil, store)

	_, err := provider.Resolve(context.Background())
	require.ErrorIs(t, err, ErrCredentialMissing)

	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, []string{NameXsrf}, missing.Names)
}

func TestResolveStoreFailure(t *testing.T) {
	storeErr := errors.New("profile locked")
	provider, rec := newProvider(map[string]string{NameXsrf: "x"}, &countingStore{err: storeErr})

	_, err := provider.Resolve(context.Background())
	require.ErrorIs(t, err, ErrCredentialMissing)
	require.ErrorIs(t, err, storeErr)
	require.True(t, rec.Has(telemetry.LevelBroken, report_provider_resolve))
}

func TestResolveWithoutStore(t *testing.T) {
	provider, _ := newProvider(map[string]string{NameXsrf: "x"}, nil)

	creds, missing, storeErr := provider.Lookup(context.Background())
	require.NoError(t, storeErr)
	require.Equal(t, []string{NameAnonymousID, NameUser}, missing)
	require.Equal(t, "x", creds.Get(NameXsrf))
}

func TestDomainMatches(t *testing.T) {
	cases := []struct {
		domain, cookieDomain string
		expected             bool
	}{
		{"hashdive.com", "hashdive.com", true},
		{"hashdive.com", ".hashdive.com", true},
		{"hashdive.com", "www.hashdive.com", true},
		{"www.hashdive.com", "hashdive.com", true},
		{"hashdive.com", "nothashdive.com", false},
		{"hashdive.com", "", false},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, domainMatches(c.domain, c.cookieDomain), "%s vs %s", c.domain, c.cookieDomain)
	}
}

func TestFilterCookies(t *testing.T) {
	out := filterCookies([]*proto.NetworkCookie{
		{Name: NameXsrf, Value: "x", Domain: "hashdive.com"},
		{Name: NameUser, Value: "u", Domain: ".hashdive.com"},
		{Name: NameUser, Value: "other", Domain: "google.com"},
		{Name: "_ga", Value: "ga", Domain: "hashdive.com"},
	}, "hashdive.com", RequiredNames)
	require.Equal(t, map[string]string{NameXsrf: "x", NameUser: "u"}, out)
}

func TestParseSignedTimestamp(t *testing.T) {
	issued, ok := ParseSignedTimestamp("2|1:0|10:1761033441|15:_streamlit_user|8:eyJhIjox|abcdef")
	require.True(t, ok)
	require.Equal(t, time.Unix(1761033441, 0).UTC(), issued)

	_, ok = ParseSignedTimestamp("not-signed")
	require.False(t, ok)
	_, ok = ParseSignedTimestamp("2|1:0|10:abc|x")
	require.False(t, ok)
}

func TestInspect(t *testing.T) {
	issued := time.Unix(1761033441, 0).UTC()
	user := "2|1:0|10:1761033441|15:_streamlit_user|sig"
	creds := NewCredentials(map[string]string{
		NameAnonymousID: "4bf6f2a5-59f3-4871-aa35-f3193197055a",
		NameUser:        user,
		NameXsrf:        "short",
	})

	cases := []struct {
		name     string
		now      time.Time
		expected Status
	}{
		{name: "fresh", now: issued.Add(time.Hour), expected: StatusOK},
		{name: "stale", now: issued.Add(13 * time.Hour), expected: StatusStale},
		{name: "expired", now: issued.Add(25 * time.Hour), expected: StatusExpired},
		{name: "future", now: issued.Add(-time.Hour), expected: StatusFuture},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			reports := Inspect(creds, nil, c.now)
			require.Len(t, reports, 3)
			require.Equal(t, StatusOK, reports[0].Status)
			require.Equal(t, c.expected, reports[1].Status)
			require.Equal(t, StatusShort, reports[2].Status)
			require.Equal(t, SourceOverride, reports[1].Source)
		})
	}

	reports := Inspect(Credentials{}, []string{NameXsrf}, issued)
	require.Equal(t, StatusMissing, reports[0].Status)
	require.False(t, reports[0].Status.Healthy())
}
