// Package archivetest builds small QCLCD archives for tests and offline
// fixtures.
package archivetest

import (
	"archive/tar"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Modern column headers, in the order the QCLCD zip archives publish them.
var (
	ModernHourlyHeader = []string{
		"WBAN", "Date", "Time", "StationType", "SkyCondition", "SkyConditionFlag",
		"Visibility", "VisibilityFlag", "WeatherType", "WeatherTypeFlag",
		"DryBulbFarenheit", "DryBulbFarenheitFlag", "DryBulbCelsius", "DryBulbCelsiusFlag",
		"WetBulbFarenheit", "WetBulbFarenheitFlag", "WetBulbCelsius", "WetBulbCelsiusFlag",
		"DewPointFarenheit", "DewPointFarenheitFlag", "DewPointCelsius", "DewPointCelsiusFlag",
		"RelativeHumidity", "RelativeHumidityFlag", "WindSpeed", "WindSpeedFlag",
		"WindDirection", "WindDirectionFlag", "ValueForWindCharacter", "ValueForWindCharacterFlag",
		"StationPressure", "StationPressureFlag", "PressureTendency", "PressureTendencyFlag",
		"PressureChange", "PressureChangeFlag", "SeaLevelPressure", "SeaLevelPressureFlag",
		"RecordType", "RecordTypeFlag", "HourlyPrecip", "HourlyPrecipFlag",
		"Altimeter", "AltimeterFlag",
	}
	ModernDailyHeader = []string{
		"WBAN", "YearMonthDay", "Tmax", "TmaxFlag", "Tmin", "TminFlag", "Tavg", "TavgFlag",
		"Depart", "DepartFlag", "DewPoint", "DewPointFlag", "WetBulb", "WetBulbFlag",
		"Heat", "HeatFlag", "Cool", "CoolFlag", "Sunrise", "SunriseFlag", "Sunset", "SunsetFlag",
		"CodeSum", "CodeSumFlag", "Depth", "DepthFlag", "Water1", "Water1Flag",
		"SnowFall", "SnowFallFlag", "PrecipTotal", "PrecipTotalFlag",
		"StnPressure", "StnPressureFlag", "SeaLevel", "SeaLevelFlag",
		"ResultSpeed", "ResultSpeedFlag", "ResultDir", "ResultDirFlag",
		"AvgSpeed", "AvgSpeedFlag", "Max5Speed", "Max5SpeedFlag", "Max5Dir", "Max5DirFlag",
		"Max2Speed", "Max2SpeedFlag", "Max2Dir", "Max2DirFlag",
	}
)

// Legacy column headers, in the order the pre-2007 tarballs publish them.
var (
	LegacyHourlyHeader = []string{
		"Wban Number", "YearMonthDay", "Time", "Station Type", "Maintenance Indicator",
		"Sky Conditions", "Visibility", "Weather Type",
		"Dry Bulb Temp", "Dew Point Temp", "Wet Bulb Temp", "% Relative Humidity",
		"Wind Speed (kt)", "Wind Direction", "Wind Char. Gusts (kt)",
		"Val for Char", "Station Pressure", "Pressure Tendency",
		"Sea Level Pressure", "Record Type", "Precip. Total",
	}
	LegacyDailyHeader = []string{
		"Wban Number", "YearMonthDay", "Max Temp", "Min Temp", "Avg Temp",
		"Dep from Normal", "Avg Dew Pt", "Avg Wet Bulb",
		"Heating Degree Days", "Cooling Degree Days", "Significant Weather",
		"Snow/Ice Depth", "Snow/Ice Water Equiv", "Precipitation Snowfall",
		"Precipitation Water Equiv", "Pressue Avg Station", "Pressure Avg Sea Level",
		"Wind Speed", "Wind Direction", "Wind Avg Speed",
		"Max 5 sec speed", "Max 5 sec Dir", "Max 2 min speed", "Max 2 min Dir",
	}
)

// File renders a header and rows as comma-separated text with CRLF line
// endings, matching the published member files.
func File(header []string, rows ...[]string) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(header, ","))
	b.WriteString("\r\n")
	for _, r := range rows {
		b.WriteString(strings.Join(r, ","))
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// Row builds a row for header from the given column values. Columns not in
// values are left empty.
func Row(header []string, values map[string]string) []string {
	row := make([]string, len(header))
	for i, col := range header {
		row[i] = values[col]
	}
	return row
}

// WriteTarGz writes members to a gzip-compressed tarball at path.
// Member names are written in sorted order.
func WriteTarGz(path string, members map[string][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, name := range sortedNames(members) {
		data := members[name]
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  time.Unix(0, 0),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write tar member %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}

// WriteZip writes members to a zip archive at path.
func WriteZip(path string, members map[string][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range sortedNames(members) {
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("create zip member %s: %w", name, err)
		}
		if _, err := w.Write(members[name]); err != nil {
			return fmt.Errorf("write zip member %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func sortedNames(members map[string][]byte) []string {
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
