package session

import (
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusMissing Status = "missing"
	StatusShort   Status = "short"
	StatusStale   Status = "stale"
	StatusExpired Status = "expired"
	StatusFuture  Status = "future"
	StatusInvalid Status = "invalid"
)

// Healthy is false for statuses that will almost certainly get the stream rejected.
func (s Status) Healthy() bool {
	return s == StatusOK || s == StatusStale
}

const (
	staleAfter   = 12 * time.Hour
	expiredAfter = 24 * time.Hour
)

// minimum lengths real tokens have, shorter values are usually copy paste mistakes
var minLength = map[string]int{
	NameAnonymousID: 31,
	NameXsrf:        21,
}

type TokenReport struct {
	Name     string
	Length   int
	Source   Source
	IssuedAt time.Time
	Age      time.Duration
	Status   Status
}

// ParseSignedTimestamp finds the `10:<unix seconds>` field of a signed
// streamlit cookie (`2|1:0|10:1761033441|15:_streamlit_user|...`).
func ParseSignedTimestamp(value string) (time.Time, bool) {
	parts := strings.Split(value, "|")
	if len(parts) < 3 {
		return time.Time{}, false
	}
	for _, part := range parts {
		if !strings.HasPrefix(part, "10:") {
			continue
		}
		seconds, err := strconv.ParseInt(part[3:], 10, 64)
		if err != nil {
			continue
		}
		return time.Unix(seconds, 0).UTC(), true
	}
	return time.Time{}, false
}

func inspectToken(name, value string, now time.Time) TokenReport {
	report := TokenReport{Name: name, Length: len(value), Status: StatusOK}
	if value == "" {
		report.Status = StatusMissing
		return report
	}

	if name == NameUser {
		issuedAt, ok := ParseSignedTimestamp(value)
		if !ok {
			report.Status = StatusInvalid
			return report
		}
		report.IssuedAt = issuedAt
		report.Age = now.Sub(issuedAt)
		switch {
		case report.Age < 0:
			report.Status = StatusFuture
		case report.Age > expiredAfter:
			report.Status = StatusExpired
		case report.Age > staleAfter:
			report.Status = StatusStale
		}
		return report
	}

	if min, ok := minLength[name]; ok && len(value) < min {
		report.Status = StatusShort
	}
	return report
}

// Inspect checks every required token of creds, names without a value are
// reported as missing.
func Inspect(creds Credentials, names []string, now time.Time) []TokenReport {
	if len(names) == 0 {
		names = RequiredNames
	}
	reports := make([]TokenReport, 0, len(names))
	for _, name := range names {
		report := inspectToken(name, creds.Get(name), now)
		report.Source = creds.Source(name)
		reports = append(reports, report)
	}
	return reports
}
