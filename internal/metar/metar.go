// Package metar decodes raw METAR aviation weather reports and the
// aviationweather.gov cache feed that carries them.
//
// Only the groups that feed the observation table are interpreted: station,
// time, wind, visibility, present weather, sky, temperature, altimeter, and
// the SLP and precipitation remarks. Other remarks are ignored; an
// unrecognized group in the body is a decode failure.
package metar

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseError reports a METAR that could not be decoded.
type ParseError struct {
	Raw   string
	Group string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Group != "" {
		return fmt.Sprintf("metar %q: group %q: %v", e.Raw, e.Group, e.Err)
	}
	return fmt.Sprintf("metar %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errUnrecognized = errors.New("unrecognized group")
	errNoStation    = errors.New("missing station identifier")
	errNoTime       = errors.New("missing observation time")
	errNil          = errors.New("no report")
)

// SkyLayer is one cloud layer, e.g. BKN250 or VV003.
type SkyLayer struct {
	Cover    string
	HeightFt *int
	Cloud    string
}

func (l SkyLayer) String() string {
	if l.HeightFt == nil {
		return l.Cover + l.Cloud
	}
	return fmt.Sprintf("%s%03d%s", l.Cover, *l.HeightFt/100, l.Cloud)
}

// Report is a decoded METAR. Absent groups leave their fields nil.
type Report struct {
	Raw       string
	StationID string
	Time      time.Time
	Auto      bool
	Corrected bool

	WindDirDegrees *int
	WindVariable   bool
	WindSpeedKt    *int
	WindGustKt     *int

	VisibilityMiles *float64
	Weather         []string
	Sky             []SkyLayer

	TempC         *float64
	DewPointC     *float64
	AltimeterInHg *float64

	SeaLevelPressureMb *float64
	Precip1hIn         *float64
	Precip3hIn         *float64
	Precip6hIn         *float64
	Precip24hIn        *float64
}

var (
	stationRe  = regexp.MustCompile(`^[A-Z][A-Z0-9]{3}$`)
	timeRe     = regexp.MustCompile(`^(\d{2})(\d{2})(\d{2})Z$`)
	windRe     = regexp.MustCompile(`^(\d{3}|VRB)(\d{2,3})(?:G(\d{2,3}))?(KT|MPS|KMH)$`)
	windVarRe  = regexp.MustCompile(`^\d{3}V\d{3}$`)
	visRe      = regexp.MustCompile(`^([MP])?(?:(\d+)/(\d+)|(\d+))SM$`)
	visWholeRe = regexp.MustCompile(`^\d$`)
	visFracRe  = regexp.MustCompile(`^\d/\d{1,2}SM$`)
	visMetreRe = regexp.MustCompile(`^(\d{4})(?:NDV)?$`)
	rvrRe      = regexp.MustCompile(`^R\d{2}[LRC]?/`)
	weatherRe  = regexp.MustCompile(`^(-|\+|VC)?(MI|PR|BC|DR|BL|SH|TS|FZ)?((?:DZ|RA|SN|SG|IC|PE|PL|GR|GS|UP)*)(BR|FG|FU|VA|DU|SA|HZ|PY)?(PO|SQ|FC|SS|DS)?$`)
	skyRe      = regexp.MustCompile(`^(FEW|SCT|BKN|OVC|VV)(\d{3}|///)(CB|TCU|///)?$`)
	tempRe     = regexp.MustCompile(`^(M?\d{2})/(M?\d{2})?$`)
	altRe      = regexp.MustCompile(`^([AQ])(\d{4})$`)

	slpRe       = regexp.MustCompile(`^SLP(\d{3})$`)
	precip1hRe  = regexp.MustCompile(`^P(\d{4})$`)
	precip36Re  = regexp.MustCompile(`^6(\d{4}|////)$`)
	precip24Re  = regexp.MustCompile(`^7(\d{4}|////)$`)
	exactTempRe = regexp.MustCompile(`^T([01])(\d{3})([01])(\d{3})$`)
)

const (
	metresPerMile = 1609.344
	hPaToInHg     = 0.0295299830714
	mpsToKt       = 1.943844
	kmhToKt       = 0.539957
)

// Decode parses a raw METAR. The report carries only day-of-month and time,
// so ref anchors the year and month; a day after ref's day is taken to be in
// the previous month.
func Decode(raw string, ref time.Time) (Report, error) {
	r := Report{Raw: raw}
	fail := func(group string, err error) (Report, error) {
		return Report{}, &ParseError{Raw: raw, Group: group, Err: err}
	}

	groups := strings.Fields(strings.TrimSpace(raw))
	for len(groups) > 0 {
		last := groups[len(groups)-1]
		if last != "$" && last != "=" {
			break
		}
		groups = groups[:len(groups)-1]
	}
	if len(groups) > 0 {
		groups[len(groups)-1] = strings.TrimSuffix(groups[len(groups)-1], "=")
	}

	if len(groups) > 0 && (groups[0] == "METAR" || groups[0] == "SPECI") {
		groups = groups[1:]
	}
	if len(groups) == 0 || !stationRe.MatchString(groups[0]) {
		return fail("", errNoStation)
	}
	r.StationID = groups[0]
	groups = groups[1:]

	if len(groups) == 0 {
		return fail("", errNoTime)
	}
	t, err := observationTime(groups[0], ref)
	if err != nil {
		return fail(groups[0], err)
	}
	r.Time = t
	groups = groups[1:]

	remarks := -1
	for i := 0; i < len(groups); i++ {
		g := groups[i]
		if g == "RMK" {
			remarks = i + 1
			break
		}
		consumed, err := r.decodeBodyGroup(g, groups[i+1:])
		if err != nil {
			return fail(g, err)
		}
		i += consumed
	}
	if remarks >= 0 {
		for _, g := range groups[remarks:] {
			r.decodeRemark(g)
		}
	}
	return r, nil
}

func observationTime(g string, ref time.Time) (time.Time, error) {
	m := timeRe.FindStringSubmatch(g)
	if m == nil {
		return time.Time{}, errNoTime
	}
	day, _ := strconv.Atoi(m[1])
	hour, _ := strconv.Atoi(m[2])
	minute, _ := strconv.Atoi(m[3])
	if day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("observation time %s out of range", g)
	}
	ref = ref.UTC()
	year, month := ref.Year(), ref.Month()
	if day > ref.Day() {
		prev := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
		year, month = prev.Year(), prev.Month()
	}
	t := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("observation day %d not in %s", day, month)
	}
	return t, nil
}

// decodeBodyGroup interprets one group before RMK. It returns how many of the
// following groups it also consumed.
func (r *Report) decodeBodyGroup(g string, next []string) (int, error) {
	switch g {
	case "AUTO":
		r.Auto = true
		return 0, nil
	case "COR", "CCA", "CCB":
		r.Corrected = true
		return 0, nil
	case "NIL":
		return 0, errNil
	case "CLR", "SKC", "NSC", "NCD":
		r.Sky = append(r.Sky, SkyLayer{Cover: g})
		return 0, nil
	case "CAVOK":
		r.VisibilityMiles = ptr(10.0)
		return 0, nil
	case "NOSIG", "/////KT", "//////", "////", "M/M":
		return 0, nil
	}

	if m := windRe.FindStringSubmatch(g); m != nil {
		r.decodeWind(m)
		return 0, nil
	}
	if windVarRe.MatchString(g) {
		return 0, nil
	}
	if visWholeRe.MatchString(g) && len(next) > 0 && visFracRe.MatchString(next[0]) {
		whole, _ := strconv.Atoi(g)
		frac, err := parseVisibility(next[0])
		if err != nil {
			return 0, err
		}
		v := float64(whole) + frac
		r.VisibilityMiles = &v
		return 1, nil
	}
	if visRe.MatchString(g) {
		v, err := parseVisibility(g)
		if err != nil {
			return 0, err
		}
		r.VisibilityMiles = &v
		return 0, nil
	}
	if m := visMetreRe.FindStringSubmatch(g); m != nil && r.VisibilityMiles == nil {
		metres, _ := strconv.Atoi(m[1])
		v := round(float64(metres)/metresPerMile, 2)
		r.VisibilityMiles = &v
		return 0, nil
	}
	if rvrRe.MatchString(g) {
		return 0, nil
	}
	if m := skyRe.FindStringSubmatch(g); m != nil {
		layer := SkyLayer{Cover: m[1], Cloud: strings.Trim(m[3], "/")}
		if m[2] != "///" {
			h, _ := strconv.Atoi(m[2])
			h *= 100
			layer.HeightFt = &h
		}
		r.Sky = append(r.Sky, layer)
		return 0, nil
	}
	if m := tempRe.FindStringSubmatch(g); m != nil {
		r.TempC = ptr(signedTemp(m[1]))
		if m[2] != "" {
			r.DewPointC = ptr(signedTemp(m[2]))
		}
		return 0, nil
	}
	if m := altRe.FindStringSubmatch(g); m != nil {
		v, _ := strconv.Atoi(m[2])
		var inHg float64
		if m[1] == "A" {
			inHg = float64(v) / 100
		} else {
			inHg = round(float64(v)*hPaToInHg, 2)
		}
		r.AltimeterInHg = &inHg
		return 0, nil
	}
	if isWeather(g) {
		r.Weather = append(r.Weather, g)
		return 0, nil
	}
	return 0, errUnrecognized
}

func (r *Report) decodeWind(m []string) {
	speed, _ := strconv.Atoi(m[2])
	switch m[4] {
	case "MPS":
		speed = int(math.Round(float64(speed) * mpsToKt))
	case "KMH":
		speed = int(math.Round(float64(speed) * kmhToKt))
	}
	r.WindSpeedKt = &speed
	if m[1] == "VRB" {
		r.WindVariable = true
	} else {
		dir, _ := strconv.Atoi(m[1])
		r.WindDirDegrees = &dir
	}
	if m[3] != "" {
		gust, _ := strconv.Atoi(m[3])
		switch m[4] {
		case "MPS":
			gust = int(math.Round(float64(gust) * mpsToKt))
		case "KMH":
			gust = int(math.Round(float64(gust) * kmhToKt))
		}
		r.WindGustKt = &gust
	}
}

func (r *Report) decodeRemark(g string) {
	if m := slpRe.FindStringSubmatch(g); m != nil {
		v, _ := strconv.Atoi(m[1])
		mb := float64(v) / 10
		if mb < 50 {
			mb += 1000
		} else {
			mb += 900
		}
		r.SeaLevelPressureMb = &mb
		return
	}
	if m := precip1hRe.FindStringSubmatch(g); m != nil {
		r.Precip1hIn = hundredths(m[1])
		return
	}
	if m := precip36Re.FindStringSubmatch(g); m != nil {
		v := hundredths(m[1])
		if synopticSixHour(r.Time) {
			r.Precip6hIn = v
		} else {
			r.Precip3hIn = v
		}
		return
	}
	if m := precip24Re.FindStringSubmatch(g); m != nil {
		r.Precip24hIn = hundredths(m[1])
		return
	}
	if m := exactTempRe.FindStringSubmatch(g); m != nil {
		r.TempC = ptr(tenths(m[1], m[2]))
		r.DewPointC = ptr(tenths(m[3], m[4]))
	}
}

// synopticSixHour reports whether a 3/6-hour precipitation group belongs to
// the 00, 06, 12 or 18Z reporting cycle. Reports are filed shortly before the
// hour, so the time is rounded to the nearest hour first.
func synopticSixHour(t time.Time) bool {
	return t.Add(30*time.Minute).Hour()%6 == 0
}

func parseVisibility(g string) (float64, error) {
	m := visRe.FindStringSubmatch(g)
	if m == nil {
		return 0, errUnrecognized
	}
	var v float64
	if m[4] != "" {
		n, _ := strconv.Atoi(m[4])
		v = float64(n)
	} else {
		num, _ := strconv.Atoi(m[2])
		den, _ := strconv.Atoi(m[3])
		if den == 0 {
			return 0, fmt.Errorf("visibility %s: zero denominator", g)
		}
		v = float64(num) / float64(den)
	}
	return v, nil
}

func isWeather(g string) bool {
	m := weatherRe.FindStringSubmatch(g)
	if m == nil {
		return false
	}
	// An intensity or vicinity prefix alone is not a phenomenon.
	return m[2] != "" || m[3] != "" || m[4] != "" || m[5] != ""
}

func signedTemp(s string) float64 {
	neg := strings.HasPrefix(s, "M")
	v, _ := strconv.Atoi(strings.TrimPrefix(s, "M"))
	if neg {
		return -float64(v)
	}
	return float64(v)
}

func tenths(sign, digits string) float64 {
	v, _ := strconv.Atoi(digits)
	f := float64(v) / 10
	if sign == "1" {
		return -f
	}
	return f
}

func hundredths(s string) *float64 {
	if s == "////" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	f := float64(v) / 100
	return &f
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func ptr[T any](v T) *T { return &v }
