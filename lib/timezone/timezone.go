package timezone

import (
	"time"
	_ "time/tzdata"
)

// BrowserOffset returns what Date.getTimezoneOffset reports in a browser set
// to the named zone at the given instant: minutes behind UTC, so zones east of
// UTC are negative.
func BrowserOffset(name string, at time.Time) (int, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return 0, err
	}
	_, seconds := at.In(loc).Zone()
	return -seconds / 60, nil
}
