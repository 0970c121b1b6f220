// Package loader stages canonical records into scratch tables and merges them
// into the persisted observation tables.
package loader

import (
	"slices"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
)

// ColumnType is a dialect-neutral column type. Sinks map it to SQL.
type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Real
	Timestamp
	Date
	TextArray
)

// Column is one table column.
type Column struct {
	Name string
	Type ColumnType
}

// Table describes a staging or target table.
//
// Target tables carry a surrogate id, longitude and latitude columns, and a
// unique index on Key. Staging tables are plain scratch tables.
type Table struct {
	Name    string
	Columns []Column
	Key     []string
	Target  bool
}

// ColumnNames returns the table's data column names in order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// SortedColumnNames returns the data column names in lexical order, the
// order used for merge statements.
func (t Table) SortedColumnNames() []string {
	names := t.ColumnNames()
	slices.Sort(names)
	return names
}

func columnsFor(header []string, types map[string]ColumnType) []Column {
	cols := make([]Column, len(header))
	for i, name := range header {
		cols[i] = Column{Name: name, Type: types[name]}
	}
	return cols
}

var hourlyTypes = map[string]ColumnType{
	"datetime":            Timestamp,
	"visibility":          Real,
	"weather_types":       TextArray,
	"drybulb_fahrenheit":  Real,
	"wetbulb_fahrenheit":  Real,
	"dewpoint_fahrenheit": Real,
	"relative_humidity":   Integer,
	"wind_speed":          Integer,
	"station_pressure":    Real,
	"sealevel_pressure":   Real,
	"hourly_precip":       Real,
}

var dailyTypes = map[string]ColumnType{
	"date":                  Date,
	"temp_max":              Real,
	"temp_min":              Real,
	"temp_avg":              Real,
	"departure_from_normal": Real,
	"dewpoint_avg":          Real,
	"wetbulb_avg":           Real,
	"weather_types":         TextArray,
	"snowice_depth":         Real,
	"snowice_waterequiv":    Real,
	"snowfall":              Real,
	"precip_total":          Real,
	"station_pressure":      Real,
	"sealevel_pressure":     Real,
	"resultant_windspeed":   Real,
	"avg_windspeed":         Real,
	"max5_windspeed":        Real,
	"max2_windspeed":        Real,
}

var metarTypes = map[string]ColumnType{
	"datetime":            Timestamp,
	"visibility":          Real,
	"weather_types":       TextArray,
	"temp_fahrenheit":     Real,
	"dewpoint_fahrenheit": Real,
	"wind_speed":          Integer,
	"wind_gust":           Integer,
	"station_pressure":    Real,
	"sealevel_pressure":   Real,
	"precip_1h":           Real,
	"precip_3h":           Real,
	"precip_6h":           Real,
	"precip_24h":          Real,
}

// The location column holds EWKT text so the table loads without PostGIS.
var stationTypes = map[string]ColumnType{
	"latitude":  Real,
	"longitude": Real,
	"elevation": Real,
	"begin":     Date,
	"end":       Date,
}

// Staging and target tables.
var (
	HourlyStaging = Table{
		Name:    "src_weather_observations_hourly",
		Columns: columnsFor(domain.HourlyHeader, hourlyTypes),
	}
	HourlyTarget = Table{
		Name:    "dat_weather_observations_hourly",
		Columns: columnsFor(domain.HourlyHeader, hourlyTypes),
		Key:     []string{"wban_code", "datetime"},
		Target:  true,
	}
	DailyStaging = Table{
		Name:    "src_weather_observations_daily",
		Columns: columnsFor(domain.DailyHeader, dailyTypes),
	}
	DailyTarget = Table{
		Name:    "dat_weather_observations_daily",
		Columns: columnsFor(domain.DailyHeader, dailyTypes),
		Key:     []string{"wban_code", "date"},
		Target:  true,
	}
	MetarStaging = Table{
		Name:    "tmp_weather_observations_metar",
		Columns: columnsFor(domain.MetarHeader, metarTypes),
	}
	MetarTarget = Table{
		Name:    "dat_weather_observations_metar",
		Columns: columnsFor(domain.MetarHeader, metarTypes),
		Key:     []string{"wban_code", "datetime"},
		Target:  true,
	}
	// Stations is replaced wholesale on every refresh, so it is staged
	// directly and never merged.
	Stations = Table{
		Name:    "weather_stations",
		Columns: columnsFor(domain.StationHeader, stationTypes),
	}
)

// TargetTables lists the persisted tables created by EnsureTables.
func TargetTables() []Table {
	return []Table{HourlyTarget, DailyTarget, MetarTarget, Stations}
}
