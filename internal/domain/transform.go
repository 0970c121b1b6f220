package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reasons a source row is dropped.
const (
	DropShortRow      = "short_row"
	DropBadTimestamp  = "bad_timestamp"
	DropSpecialReport = "special_report"
	DropMissingWBAN   = "missing_wban"
)

// specialReport is the legacy record type for METAR SPECI reports, which
// duplicate the routine hourly report they accompany.
const specialReport = "SP"

// RawRow is one split source line and its 1-based position in the file.
type RawRow struct {
	Line  int
	Cells []string
}

// FieldIssue is a coercion failure recorded against one field. The field is
// stored as null.
type FieldIssue struct {
	Field string
	Err   error
}

// RowResult carries the per-row outcome: the drop reason when the row was
// rejected and any field-level issues when it was accepted.
type RowResult struct {
	Line    int
	Dropped string
	Issues  []FieldIssue
}

// Accepted reports whether the row produced a record.
func (r RowResult) Accepted() bool { return r.Dropped == "" }

// Err returns the drop as a *RowError, or nil when the row was accepted.
func (r RowResult) Err(raw []string) error {
	if r.Accepted() {
		return nil
	}
	return &RowError{Line: r.Line, Reason: r.Dropped, Raw: raw}
}

func (r *RowResult) drop(reason string) {
	r.Dropped = reason
}

func (r *RowResult) note(field string, err error) {
	if err != nil {
		r.Issues = append(r.Issues, FieldIssue{Field: field, Err: err})
	}
}

func (r *RowResult) float(field, s string) *float64 {
	v, err := FloatOrNA(s)
	r.note(field, err)
	return v
}

func (r *RowResult) integer(field, s string) *int {
	v, err := IntegerOrNA(s)
	r.note(field, err)
	return v
}

func (r *RowResult) temp(field, s string) *float64 {
	v, err := Temp(s)
	r.note(field, err)
	return v
}

func (r *RowResult) precip(field, s string) *float64 {
	v, err := Precip(s)
	r.note(field, err)
	return v
}

func (r *RowResult) wind(field string, speed *float64, dir string) Wind {
	w, err := ParseWind(speed, dir)
	r.note(field, err)
	return w
}

func (r *RowResult) weather(field, s string) []WeatherToken {
	tokens, unparsed := ParseWeatherTypes(s)
	if len(unparsed) > 0 {
		r.note(field, fmt.Errorf("unparsed weather codes %q", unparsed))
	}
	return tokens
}

// parseObservationTime combines a YYYYMMDD date with an H/HH/HHMM time.
// A missing or unparseable time is reported as an error.
func parseObservationTime(date, hhmm string) (time.Time, error) {
	t, err := IntegerOrNA(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, errors.New("missing time")
	}
	return time.Parse("20060102 1504", fmt.Sprintf("%s %04d", strings.TrimSpace(date), *t))
}

func parseObservationDate(date string) (time.Time, error) {
	return time.Parse("20060102", strings.TrimSpace(date))
}

// skyTop returns the highest reported layer, the last token of the sky string.
func skyTop(sky string) string {
	fields := strings.Fields(sky)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// normalizeWBAN strips zero padding ("03017" -> "3017") so keys agree across
// eras and with the station list, which stores WBAN as a number.
func normalizeWBAN(s string) string {
	s = strings.TrimSpace(s)
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" && s != "" {
		return "0"
	}
	return trimmed
}

// parseLegacyVisibility reads statute miles such as "10SM", "1/2SM" or
// "1 1/4SM". Anything else is null.
func parseLegacyVisibility(s string) (*float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "SM", ""))
	if isMissing(s) {
		return nil, nil
	}
	var total float64
	for _, part := range strings.Fields(s) {
		num, den, isFrac := strings.Cut(part, "/")
		if !isFrac {
			v, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil, fmt.Errorf("parse visibility %q: %w", s, err)
			}
			total += v
			continue
		}
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(den, 64)
		if errN != nil || errD != nil || d == 0 {
			return nil, fmt.Errorf("parse visibility %q: bad fraction", s)
		}
		total += n / d
	}
	return &total, nil
}

type modernHourlyParser struct{ layout }

// ParseHourlyRow implements HourlyParser for QCLCD zip files.
func (p modernHourlyParser) ParseHourlyRow(row RawRow) (HourlyObservation, RowResult) {
	res := RowResult{Line: row.Line}
	c := row.Cells
	if len(c) < p.width {
		res.drop(DropShortRow)
		return HourlyObservation{}, res
	}

	obs, ok := p.common(c, &res)
	if !ok {
		return HourlyObservation{}, res
	}
	obs.StationType = strings.TrimSpace(p.cell(c, colStationType))
	obs.Visibility = res.float("visibility", p.cell(c, colVisibility))
	return obs, res
}

type legacyHourlyParser struct{ layout }

// ParseHourlyRow implements HourlyParser for pre-2007 tar files. Special
// reports are dropped.
func (p legacyHourlyParser) ParseHourlyRow(row RawRow) (HourlyObservation, RowResult) {
	res := RowResult{Line: row.Line}
	c := row.Cells
	if len(c) < p.width {
		res.drop(DropShortRow)
		return HourlyObservation{}, res
	}
	if strings.TrimSpace(p.cell(c, colRecordType)) == specialReport {
		res.drop(DropSpecialReport)
		return HourlyObservation{}, res
	}

	obs, ok := p.common(c, &res)
	if !ok {
		return HourlyObservation{}, res
	}
	obs.OldStationType = strings.TrimSpace(p.cell(c, colStationType))
	vis, err := parseLegacyVisibility(p.cell(c, colVisibility))
	res.note("visibility", err)
	obs.Visibility = vis
	return obs, res
}

// common fills the hourly fields both eras share.
func (l layout) common(c []string, res *RowResult) (HourlyObservation, bool) {
	wban := normalizeWBAN(l.cell(c, colWBAN))
	if wban == "" {
		res.drop(DropMissingWBAN)
		return HourlyObservation{}, false
	}

	ts, err := parseObservationTime(l.cell(c, colDate), l.cell(c, colTime))
	if err != nil {
		res.drop(DropBadTimestamp)
		return HourlyObservation{}, false
	}

	sky := strings.TrimSpace(l.cell(c, colSkyCondition))
	speed := res.integer("wind_speed", l.cell(c, colWindSpeed))

	return HourlyObservation{
		WBAN:             wban,
		Datetime:         ts,
		SkyCondition:     sky,
		SkyConditionTop:  skyTop(sky),
		WeatherTypes:     res.weather("weather_types", l.cell(c, colWeatherType)),
		DryBulbF:         res.float("drybulb_fahrenheit", l.cell(c, colDryBulb)),
		WetBulbF:         res.float("wetbulb_fahrenheit", l.cell(c, colWetBulb)),
		DewPointF:        res.float("dewpoint_fahrenheit", l.cell(c, colDewPoint)),
		RelativeHumidity: res.integer("relative_humidity", l.cell(c, colRelativeHumidity)),
		WindSpeed:        speed,
		Wind:             res.wind("wind_direction", intToFloat(speed), l.cell(c, colWindDirection)),
		StationPressure:  res.float("station_pressure", l.cell(c, colStationPressure)),
		SeaLevelPressure: res.float("sealevel_pressure", l.cell(c, colSeaLevelPressure)),
		ReportType:       strings.TrimSpace(l.cell(c, colRecordType)),
		HourlyPrecip:     res.precip("hourly_precip", l.cell(c, colHourlyPrecip)),
	}, true
}

type dailyParser struct{ layout }

// ParseDailyRow implements DailyParser. Both eras share the daily field set;
// only the column names differ.
func (p dailyParser) ParseDailyRow(row RawRow) (DailyObservation, RowResult) {
	res := RowResult{Line: row.Line}
	c := row.Cells
	if len(c) < p.width {
		res.drop(DropShortRow)
		return DailyObservation{}, res
	}

	wban := normalizeWBAN(p.cell(c, colWBAN))
	if wban == "" {
		res.drop(DropMissingWBAN)
		return DailyObservation{}, res
	}
	date, err := parseObservationDate(p.cell(c, colDate))
	if err != nil {
		res.drop(DropBadTimestamp)
		return DailyObservation{}, res
	}

	resultSpeed := res.float("resultant_windspeed", p.cell(c, colResultSpeed))
	max5Speed := res.float("max5_windspeed", p.cell(c, colMax5Speed))
	max2Speed := res.float("max2_windspeed", p.cell(c, colMax2Speed))

	return DailyObservation{
		WBAN:                wban,
		Date:                date,
		TempMax:             res.temp("temp_max", p.cell(c, colTempMax)),
		TempMin:             res.temp("temp_min", p.cell(c, colTempMin)),
		TempAvg:             res.temp("temp_avg", p.cell(c, colTempAvg)),
		DepartureFromNormal: res.float("departure_from_normal", p.cell(c, colDeparture)),
		DewPointAvg:         res.float("dewpoint_avg", p.cell(c, colDewPointAvg)),
		WetBulbAvg:          res.float("wetbulb_avg", p.cell(c, colWetBulbAvg)),
		WeatherTypes:        res.weather("weather_types", p.cell(c, colCodeSum)),
		SnowIceDepth:        res.precip("snowice_depth", p.cell(c, colSnowIceDepth)),
		SnowIceWaterEquiv:   res.precip("snowice_waterequiv", p.cell(c, colSnowIceWater)),
		Snowfall:            res.precip("snowfall", p.cell(c, colSnowfall)),
		PrecipTotal:         res.precip("precip_total", p.cell(c, colPrecipTotal)),
		StationPressure:     res.float("station_pressure", p.cell(c, colStationPressure)),
		SeaLevelPressure:    res.float("sealevel_pressure", p.cell(c, colSeaLevelPressure)),
		ResultantWindSpeed:  resultSpeed,
		ResultantWind:       res.wind("resultant_winddirection", resultSpeed, p.cell(c, colResultDir)),
		AvgWindSpeed:        res.float("avg_windspeed", p.cell(c, colAvgSpeed)),
		Max5WindSpeed:       max5Speed,
		Max5Wind:            res.wind("max5_winddirection", max5Speed, p.cell(c, colMax5Dir)),
		Max2WindSpeed:       max2Speed,
		Max2Wind:            res.wind("max2_winddirection", max2Speed, p.cell(c, colMax2Dir)),
	}, res
}
