package dialect

import (
	"fmt"
	"regexp"
	"strconv"
)

// ISODuration is a parsed ISO-8601 P[n]Y[n]M[n]W[n]DT[n]H[n]M[n]S
// duration; a weeks component is folded into Days.
// Every Adapter.IntervalFromISO implementation starts from this shared
// parse; only the emitted SQL fragment differs per dialect.
type ISODuration struct {
	Years, Months, Days          int
	Hours, Minutes, Seconds      int
}

// TotalSeconds approximates the duration in seconds, treating a month
// as 30 days and a year as 365 days. Used by dialects (sqlite) whose
// storage is unix-epoch seconds and has no native INTERVAL type.
func (d ISODuration) TotalSeconds() int64 {
	days := int64(d.Years)*365 + int64(d.Months)*30 + int64(d.Days)
	return days*86400 + int64(d.Hours)*3600 + int64(d.Minutes)*60 + int64(d.Seconds)
}

var isoDurationRe = regexp.MustCompile(
	`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`,
)

// ParseISODuration parses the "P[n]Y[n]M[n]DT[n]H[n]M[n]S" grammar named
// by spec.md §4.A, plus an optional "[n]W" weeks component after the
// months, which adds 7*n to Days. An empty duration ("P" with no
// components) is rejected, as is any string that is not a well-formed
// ISO-8601 duration.
func ParseISODuration(s string) (ISODuration, error) {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return ISODuration{}, fmt.Errorf("invalid ISO-8601 duration: %q", s)
	}
	var d ISODuration
	var weeks int
	fields := []*int{&d.Years, &d.Months, &weeks, &d.Days, &d.Hours, &d.Minutes, &d.Seconds}
	any := false
	for i, f := range fields {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return ISODuration{}, fmt.Errorf("invalid ISO-8601 duration component in %q: %w", s, err)
		}
		*f = n
		any = true
	}
	if !any {
		return ISODuration{}, fmt.Errorf("invalid ISO-8601 duration: %q has no components", s)
	}
	d.Days += 7 * weeks
	return d, nil
}
