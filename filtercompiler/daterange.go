package filtercompiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/k0kubun/semlayer/errs"
	"github.com/k0kubun/semlayer/query"
)

var relativeLastNPartsRe = regexp.MustCompile(`^last (\d+) (days|weeks|months|years)$`)

// ResolvedRange is a half-open [Start, End) UTC interval, per spec.md
// §4.C: "end is the start of the day after the named range's last day".
type ResolvedRange struct {
	Start time.Time
	End   time.Time
}

// ResolveDateRange implements the relative date range phrase grammar
// from spec.md §4.C, resolved against `now` (the server's current
// instant, UTC). Accepted shapes: a literal phrase, a single ISO date,
// or an absolute [start, end) pair.
func ResolveDateRange(spec query.DateRangeSpec, now time.Time) (ResolvedRange, error) {
	now = now.UTC()
	switch {
	case spec.Relative != "":
		return resolveRelative(spec.Relative, now)
	case spec.Single != "":
		day, err := parseDate(spec.Single)
		if err != nil {
			return ResolvedRange{}, errs.InvalidDateRange(spec.Single, err.Error())
		}
		return ResolvedRange{Start: day, End: day.AddDate(0, 0, 1)}, nil
	case spec.Start != "" && spec.End != "":
		start, err := parseDateOrTime(spec.Start)
		if err != nil {
			return ResolvedRange{}, errs.InvalidDateRange(spec.Start, err.Error())
		}
		end, err := parseDateOrTime(spec.End)
		if err != nil {
			return ResolvedRange{}, errs.InvalidDateRange(spec.End, err.Error())
		}
		// A bare end date is inclusive of its whole day; roll forward
		// to the half-open boundary, per spec.md §4.C.
		if isDateOnly(spec.End) {
			end = end.AddDate(0, 0, 1)
		}
		if !end.After(start) {
			return ResolvedRange{}, errs.InvalidDateRange(fmt.Sprintf("%s..%s", spec.Start, spec.End), "inverted interval: end must be after start")
		}
		return ResolvedRange{Start: start, End: end}, nil
	default:
		return ResolvedRange{}, errs.InvalidDateRange("", "empty date range")
	}
}

func resolveRelative(phrase string, now time.Time) (ResolvedRange, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch phrase {
	case "today":
		return ResolvedRange{Start: today, End: today.AddDate(0, 0, 1)}, nil
	case "yesterday":
		y := today.AddDate(0, 0, -1)
		return ResolvedRange{Start: y, End: today}, nil
	case "this week":
		start := startOfWeek(today)
		return ResolvedRange{Start: start, End: start.AddDate(0, 0, 7)}, nil
	case "last week":
		start := startOfWeek(today).AddDate(0, 0, -7)
		return ResolvedRange{Start: start, End: start.AddDate(0, 0, 7)}, nil
	case "this month":
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		return ResolvedRange{Start: start, End: start.AddDate(0, 1, 0)}, nil
	case "last month":
		start := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
		return ResolvedRange{Start: start, End: start.AddDate(0, 1, 0)}, nil
	case "this quarter":
		start := startOfQuarter(today)
		return ResolvedRange{Start: start, End: start.AddDate(0, 3, 0)}, nil
	case "last quarter":
		start := startOfQuarter(today).AddDate(0, -3, 0)
		return ResolvedRange{Start: start, End: start.AddDate(0, 3, 0)}, nil
	case "this year":
		start := time.Date(today.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return ResolvedRange{Start: start, End: start.AddDate(1, 0, 0)}, nil
	case "last year":
		start := time.Date(today.Year()-1, 1, 1, 0, 0, 0, 0, time.UTC)
		return ResolvedRange{Start: start, End: start.AddDate(1, 0, 0)}, nil
	}

	if m := relativeLastNPartsRe.FindStringSubmatch(phrase); m != nil {
		n, _ := strconv.Atoi(m[1])
		unit := m[2]
		var start time.Time
		switch unit {
		case "days":
			start = today.AddDate(0, 0, -n)
		case "weeks":
			start = today.AddDate(0, 0, -7*n)
		case "months":
			start = today.AddDate(0, -n, 0)
		case "years":
			start = today.AddDate(-n, 0, 0)
		default:
			return ResolvedRange{}, errs.InvalidDateRange(phrase, "unknown unit "+unit)
		}
		return ResolvedRange{Start: start, End: today.AddDate(0, 0, 1)}, nil
	}

	return ResolvedRange{}, errs.InvalidDateRange(phrase, "unrecognized relative date range phrase")
}

func startOfWeek(day time.Time) time.Time {
	// Monday-start week.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfQuarter(day time.Time) time.Time {
	q := (int(day.Month()) - 1) / 3
	return time.Date(day.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}

func parseDateOrTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparsable date/time %q", s)
}

func isDateOnly(s string) bool {
	return len(s) == len("2006-01-02") && strings.Count(s, "-") == 2 && !strings.Contains(s, "T")
}
