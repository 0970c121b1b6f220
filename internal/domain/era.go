package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Era is the closed set of QCLCD source formats.
type Era int

const (
	LegacyEra Era = iota + 1
	ModernEra
)

func (e Era) String() string {
	switch e {
	case LegacyEra:
		return "legacy"
	case ModernEra:
		return "modern"
	default:
		return "unknown"
	}
}

// column names a source field independent of how an era spells it.
type column int

const (
	colWBAN column = iota
	colDate
	colTime
	colRecordType
	colStationType
	colSkyCondition
	colVisibility
	colWeatherType
	colDryBulb
	colWetBulb
	colDewPoint
	colRelativeHumidity
	colWindSpeed
	colWindDirection
	colStationPressure
	colSeaLevelPressure
	colHourlyPrecip

	colTempMax
	colTempMin
	colTempAvg
	colDeparture
	colDewPointAvg
	colWetBulbAvg
	colCodeSum
	colSnowIceDepth
	colSnowIceWater
	colSnowfall
	colPrecipTotal
	colResultSpeed
	colResultDir
	colAvgSpeed
	colMax5Speed
	colMax5Dir
	colMax2Speed
	colMax2Dir

	numColumns
)

type columnName struct {
	col  column
	name string
}

var modernHourlyColumns = []columnName{
	{colRecordType, "RecordType"},
	{colWBAN, "WBAN"},
	{colDate, "Date"},
	{colTime, "Time"},
	{colStationType, "StationType"},
	{colSkyCondition, "SkyCondition"},
	{colVisibility, "Visibility"},
	{colWeatherType, "WeatherType"},
	{colDryBulb, "DryBulbFarenheit"},
	{colWetBulb, "WetBulbFarenheit"},
	{colDewPoint, "DewPointFarenheit"},
	{colRelativeHumidity, "RelativeHumidity"},
	{colWindSpeed, "WindSpeed"},
	{colWindDirection, "WindDirection"},
	{colStationPressure, "StationPressure"},
	{colSeaLevelPressure, "SeaLevelPressure"},
	{colHourlyPrecip, "HourlyPrecip"},
}

var legacyHourlyColumns = []columnName{
	{colRecordType, "Record Type"},
	{colWBAN, "Wban Number"},
	{colDate, "YearMonthDay"},
	{colTime, "Time"},
	{colStationType, "Station Type"},
	{colSkyCondition, "Sky Conditions"},
	{colVisibility, "Visibility"},
	{colWeatherType, "Weather Type"},
	{colDryBulb, "Dry Bulb Temp"},
	{colWetBulb, "Wet Bulb Temp"},
	{colDewPoint, "Dew Point Temp"},
	{colRelativeHumidity, "% Relative Humidity"},
	{colWindSpeed, "Wind Speed (kt)"},
	{colWindDirection, "Wind Direction"},
	{colStationPressure, "Station Pressure"},
	{colSeaLevelPressure, "Sea Level Pressure"},
	{colHourlyPrecip, "Precip. Total"},
}

var modernDailyColumns = []columnName{
	{colWBAN, "WBAN"},
	{colDate, "YearMonthDay"},
	{colTempMax, "Tmax"},
	{colTempMin, "Tmin"},
	{colTempAvg, "Tavg"},
	{colDeparture, "Depart"},
	{colDewPointAvg, "DewPoint"},
	{colWetBulbAvg, "WetBulb"},
	{colCodeSum, "CodeSum"},
	{colSnowIceDepth, "Depth"},
	{colSnowIceWater, "Water1"},
	{colSnowfall, "SnowFall"},
	{colPrecipTotal, "PrecipTotal"},
	{colStationPressure, "StnPressure"},
	{colSeaLevelPressure, "SeaLevel"},
	{colResultSpeed, "ResultSpeed"},
	{colResultDir, "ResultDir"},
	{colAvgSpeed, "AvgSpeed"},
	{colMax5Speed, "Max5Speed"},
	{colMax5Dir, "Max5Dir"},
	{colMax2Speed, "Max2Speed"},
	{colMax2Dir, "Max2Dir"},
}

// The legacy station pressure header really is misspelled in the source.
var legacyDailyColumns = []columnName{
	{colWBAN, "Wban Number"},
	{colDate, "YearMonthDay"},
	{colTempMax, "Max Temp"},
	{colTempMin, "Min Temp"},
	{colTempAvg, "Avg Temp"},
	{colDeparture, "Dep from Normal"},
	{colDewPointAvg, "Avg Dew Pt"},
	{colWetBulbAvg, "Avg Wet Bulb"},
	{colCodeSum, "Significant Weather"},
	{colSnowIceDepth, "Snow/Ice Depth"},
	{colSnowIceWater, "Snow/Ice Water Equiv"},
	{colSnowfall, "Precipitation Snowfall"},
	{colPrecipTotal, "Precipitation Water Equiv"},
	{colStationPressure, "Pressue Avg Station"},
	{colSeaLevelPressure, "Pressure Avg Sea Level"},
	{colResultSpeed, "Wind Speed"},
	{colResultDir, "Wind Direction"},
	{colAvgSpeed, "Wind Avg Speed"},
	{colMax5Speed, "Max 5 sec speed"},
	{colMax5Dir, "Max 5 sec Dir"},
	{colMax2Speed, "Max 2 min speed"},
	{colMax2Dir, "Max 2 min Dir"},
}

// layout is a column table bound to one file header: field -> cell position.
type layout struct {
	pos   [numColumns]int
	width int
}

// bindLayout resolves every column in cols against header. Header names are
// compared after trimming whitespace, since legacy files pad them.
func bindLayout(source string, cols []columnName, header []string) (layout, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	var l layout
	for i := range l.pos {
		l.pos[i] = -1
	}
	var missing []string
	for _, c := range cols {
		i, ok := index[c.name]
		if !ok {
			missing = append(missing, c.name)
			continue
		}
		l.pos[c.col] = i
		l.width = max(l.width, i+1)
	}
	if len(missing) > 0 {
		return layout{}, &SourceError{
			Source: source,
			Err:    fmt.Errorf("header missing columns %q", missing),
		}
	}
	return l, nil
}

// cell returns the raw value of c, or "" when the column is not bound.
func (l layout) cell(row []string, c column) string {
	i := l.pos[c]
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// HourlyParser converts raw hourly rows of one bound file.
type HourlyParser interface {
	ParseHourlyRow(row RawRow) (HourlyObservation, RowResult)
}

// DailyParser converts raw daily rows of one bound file.
type DailyParser interface {
	ParseDailyRow(row RawRow) (DailyObservation, RowResult)
}

// HourlyParser binds the era's hourly column table to header. A header that
// lacks a required column is a *SourceError.
func (e Era) HourlyParser(header []string) (HourlyParser, error) {
	switch e {
	case LegacyEra:
		l, err := bindLayout("legacy hourly", legacyHourlyColumns, header)
		if err != nil {
			return nil, err
		}
		return legacyHourlyParser{l}, nil
	case ModernEra:
		l, err := bindLayout("modern hourly", modernHourlyColumns, header)
		if err != nil {
			return nil, err
		}
		return modernHourlyParser{l}, nil
	default:
		return nil, errors.New("hourly parser: unknown era")
	}
}

// DailyParser binds the era's daily column table to header.
func (e Era) DailyParser(header []string) (DailyParser, error) {
	switch e {
	case LegacyEra:
		l, err := bindLayout("legacy daily", legacyDailyColumns, header)
		if err != nil {
			return nil, err
		}
		return dailyParser{l}, nil
	case ModernEra:
		l, err := bindLayout("modern daily", modernDailyColumns, header)
		if err != nil {
			return nil, err
		}
		return dailyParser{l}, nil
	default:
		return nil, errors.New("daily parser: unknown era")
	}
}
