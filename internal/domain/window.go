package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ArchiveKind identifies the container format of a monthly archive.
type ArchiveKind int

const (
	ArchiveTar ArchiveKind = iota + 1
	ArchiveZip
)

func (k ArchiveKind) String() string {
	switch k {
	case ArchiveTar:
		return "tar"
	case ArchiveZip:
		return "zip"
	default:
		return "unknown"
	}
}

// Member file suffixes inside an archive.
const (
	HourlyMemberSuffix = "hourly.txt"
	DailyMemberSuffix  = "daily.txt"
)

// modernEraStart is the first month published as a QCLCD zip archive.
var modernEraStart = time.Date(2007, time.May, 1, 0, 0, 0, 0, time.UTC)

// legacyEraStart is the first month with a published tar archive.
var legacyEraStart = time.Date(1996, time.July, 1, 0, 0, 0, 0, time.UTC)

// SourceWindow is one calendar month of source data and the archive holding it.
type SourceWindow struct {
	Year     int
	Month    time.Month
	Era      Era
	Filename string
	Kind     ArchiveKind
}

// YearMonth returns the window's YYYYMM token.
func (w SourceWindow) YearMonth() string {
	return fmt.Sprintf("%04d%02d", w.Year, int(w.Month))
}

func (w SourceWindow) String() string { return w.YearMonth() }

// Start returns midnight UTC on the first day of the window.
func (w SourceWindow) Start() time.Time {
	return time.Date(w.Year, w.Month, 1, 0, 0, 0, 0, time.UTC)
}

// IsCurrent reports whether the window is the calendar month containing now.
// The current month's archive is still growing and must always be re-fetched.
func (w SourceWindow) IsCurrent(now time.Time) bool {
	now = now.UTC()
	return now.Year() == w.Year && now.Month() == w.Month
}

// ResolveWindow maps a calendar month to its archive. Months before May 2007
// live in legacy YYYYMM.tar.gz archives, later months in QCLCDYYYYMM.zip.
func ResolveWindow(year int, month time.Month) (SourceWindow, error) {
	if month < time.January || month > time.December {
		return SourceWindow{}, fmt.Errorf("resolve window: invalid month %d", int(month))
	}
	if year < 1 {
		return SourceWindow{}, fmt.Errorf("resolve window: invalid year %d", year)
	}

	w := SourceWindow{Year: year, Month: month}
	if year < 2007 || (year == 2007 && month < time.May) {
		w.Era = LegacyEra
		w.Kind = ArchiveTar
		w.Filename = w.YearMonth() + ".tar.gz"
	} else {
		w.Era = ModernEra
		w.Kind = ArchiveZip
		w.Filename = "QCLCD" + w.YearMonth() + ".zip"
	}
	return w, nil
}

// ParseYearMonth parses "YYYY-MM" or "YYYYMM".
func ParseYearMonth(s string) (int, time.Month, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01", "200601"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year(), t.Month(), nil
		}
	}
	return 0, 0, fmt.Errorf("parse year-month %q: expected YYYY-MM", s)
}

// WindowsBetween resolves every month from (fromYear, fromMonth) through
// (toYear, toMonth) inclusive. The range is clamped to the first published
// archive.
func WindowsBetween(fromYear int, fromMonth time.Month, toYear int, toMonth time.Month) ([]SourceWindow, error) {
	from := time.Date(fromYear, fromMonth, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(toYear, toMonth, 1, 0, 0, 0, 0, time.UTC)
	if to.Before(from) {
		return nil, errors.New("windows between: end is before start")
	}
	if from.Before(legacyEraStart) {
		from = legacyEraStart
	}

	var out []SourceWindow
	for m := from; !m.After(to); m = m.AddDate(0, 1, 0) {
		w, err := ResolveWindow(m.Year(), m.Month())
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// KindFromFilename maps an archive filename to its container format.
func KindFromFilename(name string) (ArchiveKind, error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"):
		return ArchiveTar, nil
	case strings.HasSuffix(name, ".zip"):
		return ArchiveZip, nil
	default:
		return 0, &SourceError{Source: name, Err: errors.New("unrecognized archive extension")}
	}
}

// WindowFromFilename recovers the window from an archive name such as
// "200408.tar.gz" or "QCLCD201404.zip". Directory components are ignored.
func WindowFromFilename(name string) (SourceWindow, error) {
	name = filepath.Base(name)
	kind, err := KindFromFilename(name)
	if err != nil {
		return SourceWindow{}, err
	}
	base := name[:strings.Index(name, ".")]
	if len(base) < 6 {
		return SourceWindow{}, &SourceError{Source: name, Err: errors.New("no year-month token in filename")}
	}
	year, month, err := ParseYearMonth(base[len(base)-6:])
	if err != nil {
		return SourceWindow{}, &SourceError{Source: name, Err: err}
	}
	w, err := ResolveWindow(year, month)
	if err != nil {
		return SourceWindow{}, &SourceError{Source: name, Err: err}
	}
	if w.Kind != kind {
		return SourceWindow{}, &SourceError{Source: name, Err: fmt.Errorf("%s archive for %s month", kind, w.Era)}
	}
	w.Filename = name
	return w, nil
}
