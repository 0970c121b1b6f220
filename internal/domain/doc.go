// Package domain models NOAA Quality Controlled Local Climatological Data
// (QCLCD) weather observations.
//
// # Data Source
//
// QCLCD archives are published monthly at
// http://www.ncdc.noaa.gov/orders/qclcd/. Each archive holds an hourly and a
// daily observation file covering every reporting station for the month. Live
// METAR reports come from the aviationweather.gov cache feed and are decoded
// by package metar.
//
// # Archive Eras
//
// The source changed format in May 2007:
//
//	Legacy  (before 2007-05):  YYYYMM.tar.gz      columns like "Wban Number", "Dry Bulb Temp"
//	Modern  (2007-05 onward):  QCLCDYYYYMM.zip    columns like "WBAN", "DryBulbFarenheit"
//
// [ResolveWindow] picks the era from the calendar month. Each era binds its own
// column table to the file header once, see [Era.RowParser]. Both eras produce
// the same [HourlyObservation] and [DailyObservation] field set.
//
// # Missing Values
//
// NOAA uses several sentinels for "no value":
//
//	"M"     missing
//	"-"     not reported
//	"err"   instrument error
//	"null"  empty field in some exports
//	""      blank
//
// Integer fields additionally treat "VRB" (variable) as missing. Temperatures
// may carry a trailing "*" marking an estimated value, which is stripped.
// Precipitation "T" means a trace amount and is recorded as 0.005 inches.
// Coercion failures never reject a row: the field becomes null and the issue
// is reported on the row's [RowResult].
//
// # Wind
//
// Wind direction is reported in degrees. "VR", "VRB" and "M" mean variable and
// map to the literal "VRB" for both direction and cardinal. A wind speed of
// zero means calm, which nulls both direction fields. Cardinal directions use
// 16 sectors of 22.5 degrees starting at N.
//
// # Present Weather
//
// Weather codes follow the METAR present-weather grammar:
//
//	[intensity|vicinity][descriptor][precipitation...][obscuration][other]
//	e.g. "-RA"      light rain
//	     "+TSRAGR"  heavy thunderstorm rain, plus hail as a second phenomenon
//	     "VCFG"     fog in the vicinity
//
// [ParseWeatherTypes] turns a space-separated code list into [WeatherToken]
// values carrying human-readable labels. The stored form is a two-dimensional
// Postgres text array, see [FormatWeatherTypes].
//
// # Keys
//
// Hourly and METAR rows are keyed by (wban_code, datetime), daily rows by
// (wban_code, date). Legacy WBAN codes are zero-padded in the source and have
// their leading zeros stripped so keys match across eras.
package domain
