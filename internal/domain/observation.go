package domain

import (
	"fmt"
	"strconv"
	"time"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// Record is a canonical row ready for staging. Values returns exactly one
// cell per header column; an empty cell loads as NULL.
type Record interface {
	Values() []string
	Key() string
}

// HourlyHeader is the canonical column order for hourly observations.
var HourlyHeader = []string{
	"wban_code", "datetime", "old_station_type", "station_type",
	"sky_condition", "sky_condition_top", "visibility",
	"weather_types", "drybulb_fahrenheit", "wetbulb_fahrenheit",
	"dewpoint_fahrenheit", "relative_humidity",
	"wind_speed", "wind_direction", "wind_direction_cardinal",
	"station_pressure", "sealevel_pressure", "report_type",
	"hourly_precip",
}

// DailyHeader is the canonical column order for daily summaries.
var DailyHeader = []string{
	"wban_code", "date", "temp_max", "temp_min",
	"temp_avg", "departure_from_normal",
	"dewpoint_avg", "wetbulb_avg", "weather_types",
	"snowice_depth", "snowice_waterequiv",
	"snowfall", "precip_total", "station_pressure",
	"sealevel_pressure",
	"resultant_windspeed", "resultant_winddirection", "resultant_winddirection_cardinal",
	"avg_windspeed",
	"max5_windspeed", "max5_winddirection", "max5_winddirection_cardinal",
	"max2_windspeed", "max2_winddirection", "max2_winddirection_cardinal",
}

// MetarHeader is the canonical column order for decoded METAR reports.
var MetarHeader = []string{
	"wban_code", "call_sign", "datetime",
	"sky_condition", "sky_condition_top", "visibility",
	"weather_types", "temp_fahrenheit", "dewpoint_fahrenheit",
	"wind_speed", "wind_direction", "wind_direction_cardinal", "wind_gust",
	"station_pressure", "sealevel_pressure",
	"precip_1h", "precip_3h", "precip_6h", "precip_24h",
}

// HourlyObservation is one normalized hourly report. OldStationType is only
// populated by legacy archives and StationType only by modern ones.
type HourlyObservation struct {
	WBAN             string
	Datetime         time.Time
	OldStationType   string
	StationType      string
	SkyCondition     string
	SkyConditionTop  string
	Visibility       *float64
	WeatherTypes     []WeatherToken
	DryBulbF         *float64
	WetBulbF         *float64
	DewPointF        *float64
	RelativeHumidity *int
	WindSpeed        *int
	Wind             Wind
	StationPressure  *float64
	SeaLevelPressure *float64
	ReportType       string
	HourlyPrecip     *float64
}

// Values implements Record.
func (o HourlyObservation) Values() []string {
	return []string{
		o.WBAN,
		o.Datetime.Format(timestampLayout),
		o.OldStationType,
		o.StationType,
		o.SkyCondition,
		o.SkyConditionTop,
		formatFloat(o.Visibility),
		FormatWeatherTypes(o.WeatherTypes),
		formatFloat(o.DryBulbF),
		formatFloat(o.WetBulbF),
		formatFloat(o.DewPointF),
		formatInt(o.RelativeHumidity),
		formatInt(o.WindSpeed),
		formatString(o.Wind.Direction),
		formatString(o.Wind.Cardinal),
		formatFloat(o.StationPressure),
		formatFloat(o.SeaLevelPressure),
		o.ReportType,
		formatFloat(o.HourlyPrecip),
	}
}

// Key implements Record.
func (o HourlyObservation) Key() string {
	return o.WBAN + "|" + o.Datetime.Format(timestampLayout)
}

// DailyObservation is one normalized daily summary.
type DailyObservation struct {
	WBAN                string
	Date                time.Time
	TempMax             *float64
	TempMin             *float64
	TempAvg             *float64
	DepartureFromNormal *float64
	DewPointAvg         *float64
	WetBulbAvg          *float64
	WeatherTypes        []WeatherToken
	SnowIceDepth        *float64
	SnowIceWaterEquiv   *float64
	Snowfall            *float64
	PrecipTotal         *float64
	StationPressure     *float64
	SeaLevelPressure    *float64
	ResultantWindSpeed  *float64
	ResultantWind       Wind
	AvgWindSpeed        *float64
	Max5WindSpeed       *float64
	Max5Wind            Wind
	Max2WindSpeed       *float64
	Max2Wind            Wind
}

// Values implements Record.
func (o DailyObservation) Values() []string {
	return []string{
		o.WBAN,
		o.Date.Format(dateLayout),
		formatFloat(o.TempMax),
		formatFloat(o.TempMin),
		formatFloat(o.TempAvg),
		formatFloat(o.DepartureFromNormal),
		formatFloat(o.DewPointAvg),
		formatFloat(o.WetBulbAvg),
		FormatWeatherTypes(o.WeatherTypes),
		formatFloat(o.SnowIceDepth),
		formatFloat(o.SnowIceWaterEquiv),
		formatFloat(o.Snowfall),
		formatFloat(o.PrecipTotal),
		formatFloat(o.StationPressure),
		formatFloat(o.SeaLevelPressure),
		formatFloat(o.ResultantWindSpeed),
		formatString(o.ResultantWind.Direction),
		formatString(o.ResultantWind.Cardinal),
		formatFloat(o.AvgWindSpeed),
		formatFloat(o.Max5WindSpeed),
		formatString(o.Max5Wind.Direction),
		formatString(o.Max5Wind.Cardinal),
		formatFloat(o.Max2WindSpeed),
		formatString(o.Max2Wind.Direction),
		formatString(o.Max2Wind.Cardinal),
	}
}

// Key implements Record.
func (o DailyObservation) Key() string {
	return o.WBAN + "|" + o.Date.Format(dateLayout)
}

// MetarObservation is one decoded live METAR report mapped to a WBAN station.
type MetarObservation struct {
	WBAN             string
	CallSign         string
	Datetime         time.Time
	SkyCondition     string
	SkyConditionTop  string
	Visibility       *float64
	WeatherTypes     []WeatherToken
	TempF            *float64
	DewPointF        *float64
	WindSpeed        *int
	Wind             Wind
	WindGust         *int
	StationPressure  *float64
	SeaLevelPressure *float64
	Precip1h         *float64
	Precip3h         *float64
	Precip6h         *float64
	Precip24h        *float64
}

// Values implements Record.
func (o MetarObservation) Values() []string {
	return []string{
		o.WBAN,
		o.CallSign,
		o.Datetime.Format(timestampLayout),
		o.SkyCondition,
		o.SkyConditionTop,
		formatFloat(o.Visibility),
		FormatWeatherTypes(o.WeatherTypes),
		formatFloat(o.TempF),
		formatFloat(o.DewPointF),
		formatInt(o.WindSpeed),
		formatString(o.Wind.Direction),
		formatString(o.Wind.Cardinal),
		formatInt(o.WindGust),
		formatFloat(o.StationPressure),
		formatFloat(o.SeaLevelPressure),
		formatFloat(o.Precip1h),
		formatFloat(o.Precip3h),
		formatFloat(o.Precip6h),
		formatFloat(o.Precip24h),
	}
}

// Key implements Record.
func (o MetarObservation) Key() string {
	return o.WBAN + "|" + o.Datetime.Format(timestampLayout)
}

// CheckArity returns an error when a record does not produce one value per
// header column. A mismatch is a programming error in a row parser.
func CheckArity(header []string, values []string) error {
	if len(values) != len(header) {
		return fmt.Errorf("record has %d values, header has %d columns", len(values), len(header))
	}
	return nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
