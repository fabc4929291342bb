// Package slots converts wall-clock availability ranges tagged with an IANA
// timezone into absolute instants, and merges or splits them.
package slots

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// WallLayout is the wall-clock format ranges are exchanged in.
const WallLayout = "2006-01-02T15:04"

var (
	ErrInvalidTimezone = errors.New("unknown timezone")
	ErrInvalidTime     = errors.New("invalid wall-clock time")
	ErrEmptyRange      = errors.New("range end must be after start")
	ErrInvalidUnit     = errors.New("unit must be positive")
)

var layouts = []string{WallLayout, "2006-01-02T15:04:05", "2006-01-02 15:04"}

// Range is a (start, end, timezone) triple in wall-clock form.
type Range struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Window is a Range resolved to absolute instants.
type Window struct {
	Start    time.Time
	End      time.Time
	Timezone string
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Resolve converts r to absolute instants using its timezone.
func (r Range) Resolve() (Window, error) {
	loc, err := loadLocation(r.Timezone)
	if err != nil {
		return Window{}, err
	}
	start, err := parseWall(r.Start, loc)
	if err != nil {
		return Window{}, err
	}
	end, err := parseWall(r.End, loc)
	if err != nil {
		return Window{}, err
	}
	if !end.After(start) {
		return Window{}, fmt.Errorf("%w: %s..%s", ErrEmptyRange, r.Start, r.End)
	}
	return Window{Start: start, End: end, Timezone: r.Timezone}, nil
}

// Range formats w back into wall-clock form in its own timezone.
func (w Window) Range() Range {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return Range{
		Start:    w.Start.In(loc).Format(WallLayout),
		End:      w.End.In(loc).Format(WallLayout),
		Timezone: w.Timezone,
	}
}

// MergeAdjacent coalesces ranges that touch or overlap. The result is ordered
// by start instant; a merged range is expressed in the timezone of the
// earliest range that contributed to it.
func MergeAdjacent(ranges []Range) ([]Range, error) {
	windows := make([]Window, 0, len(ranges))
	for _, r := range ranges {
		w, err := r.Resolve()
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	sort.SliceStable(windows, func(i, j int) bool { return windows[i].Start.Before(windows[j].Start) })

	var merged []Window
	for _, w := range windows {
		n := len(merged)
		if n > 0 && !w.Start.After(merged[n-1].End) {
			if w.End.After(merged[n-1].End) {
				merged[n-1].End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}

	out := make([]Range, 0, len(merged))
	for _, w := range merged {
		out = append(out, w.Range())
	}
	return out, nil
}

// Split cuts r into consecutive units of unitMinutes. A trailing remainder
// shorter than one unit is dropped.
func Split(r Range, unitMinutes int) ([]Range, error) {
	if unitMinutes <= 0 {
		return nil, ErrInvalidUnit
	}
	w, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	unit := time.Duration(unitMinutes) * time.Minute
	var out []Range
	for start := w.Start; !start.Add(unit).After(w.End); start = start.Add(unit) {
		out = append(out, Window{Start: start, End: start.Add(unit), Timezone: w.Timezone}.Range())
	}
	return out, nil
}

// Earliest resolves every range that parses and returns the one starting
// first. ok is false when none parse.
func Earliest(ranges []Range) (w Window, ok bool) {
	for _, r := range ranges {
		cand, err := r.Resolve()
		if err != nil {
			continue
		}
		if !ok || cand.Start.Before(w.Start) {
			w, ok = cand, true
		}
	}
	return w, ok
}

// ResolveWall converts a single wall-clock time in the named zone to an
// absolute instant.
func ResolveWall(wall, timezone string) (time.Time, error) {
	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	return parseWall(wall, loc)
}

// ValidTimezone reports whether name is a loadable IANA zone.
func ValidTimezone(name string) bool {
	_, err := loadLocation(name)
	return err == nil
}

func loadLocation(name string) (*time.Location, error) {
	// time.LoadLocation accepts "" and "Local", neither of which names a zone.
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

func parseWall(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}
