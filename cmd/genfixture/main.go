// Command genfixture writes small synthetic QCLCD archives so the service
// and etlctl can run without reaching NOAA. Archives land in the fetcher's
// cache layout, so a past month is served from disk.
//
// Usage:
//
//	go run ./cmd/genfixture -data-dir data -months 2006-04,2014-08
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/qclcd-etl-service/internal/archive/archivetest"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
)

// Chicago O'Hare, Midway and Gary, zero padded the way the legacy files are.
var stations = []string{"94846", "14819", "04807"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dataDir := flag.String("data-dir", "data", "directory to write archives into")
	months := flag.String("months", "2006-04,2014-08", "comma-separated YYYY-MM windows")
	days := flag.Int("days", 3, "days per month to generate")
	seed := flag.Uint64("seed", 1, "random seed for observation values")
	flag.Parse()

	if *days < 1 || *days > 28 {
		flag.Usage()
		return fmt.Errorf("-days must be between 1 and 28")
	}
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(*seed, *seed))
	for _, m := range strings.Split(*months, ",") {
		year, month, err := domain.ParseYearMonth(m)
		if err != nil {
			return err
		}
		w, err := domain.ResolveWindow(year, month)
		if err != nil {
			return err
		}
		path := filepath.Join(*dataDir, w.Filename)
		hourly, daily := generate(w, *days, rng)
		if err := write(path, w, hourly, daily); err != nil {
			return fmt.Errorf("writing %s: %w", w.Filename, err)
		}
		log.Printf("wrote %s: %d hourly, %d daily rows", path, len(hourly), len(daily))
	}
	return nil
}

type obs struct {
	wban string
	date time.Time
	temp int
	wind int
	dir  int
	wx   string
}

func generate(w domain.SourceWindow, days int, rng *rand.Rand) (hourly, daily []obs) {
	weather := []string{"", "", "", "-RA", "RA BR", "+TSRA", "-SN", "FG"}
	for _, wban := range stations {
		for d := range days {
			date := w.Start().AddDate(0, 0, d)
			base := 40 + rng.IntN(40)
			for h := range 24 {
				hourly = append(hourly, obs{
					wban: wban,
					date: date.Add(time.Duration(h)*time.Hour + 51*time.Minute),
					temp: base + rng.IntN(10) - 5,
					wind: rng.IntN(20),
					dir:  rng.IntN(36) * 10,
					wx:   weather[rng.IntN(len(weather))],
				})
			}
			daily = append(daily, obs{wban: wban, date: date, temp: base, wind: rng.IntN(15), dir: rng.IntN(36) * 10})
		}
	}
	return hourly, daily
}

func write(path string, w domain.SourceWindow, hourly, daily []obs) error {
	ym := w.YearMonth()
	if w.Era == domain.LegacyEra {
		return archivetest.WriteTarGz(path, map[string][]byte{
			ym + domain.HourlyMemberSuffix: archivetest.File(archivetest.LegacyHourlyHeader, legacyHourlyRows(hourly)...),
			ym + domain.DailyMemberSuffix:  archivetest.File(archivetest.LegacyDailyHeader, legacyDailyRows(daily)...),
		})
	}
	return archivetest.WriteZip(path, map[string][]byte{
		ym + domain.HourlyMemberSuffix: archivetest.File(archivetest.ModernHourlyHeader, modernHourlyRows(hourly)...),
		ym + domain.DailyMemberSuffix:  archivetest.File(archivetest.ModernDailyHeader, modernDailyRows(daily)...),
	})
}

func itoa(v int) string { return strconv.Itoa(v) }

func modernHourlyRows(in []obs) [][]string {
	rows := make([][]string, 0, len(in))
	for _, o := range in {
		rows = append(rows, archivetest.Row(archivetest.ModernHourlyHeader, map[string]string{
			"WBAN":              o.wban,
			"Date":              o.date.Format("20060102"),
			"Time":              o.date.Format("1504"),
			"StationType":       "11",
			"SkyCondition":      "FEW020 BKN250",
			"Visibility":        "10.00",
			"WeatherType":       o.wx,
			"DryBulbFarenheit":  itoa(o.temp),
			"DewPointFarenheit": itoa(o.temp - 8),
			"WindSpeed":         itoa(o.wind),
			"WindDirection":     itoa(o.dir),
			"SeaLevelPressure":  "30.01",
			"RecordType":        "AA",
			"HourlyPrecip":      "T",
		}))
	}
	return rows
}

func modernDailyRows(in []obs) [][]string {
	rows := make([][]string, 0, len(in))
	for _, o := range in {
		rows = append(rows, archivetest.Row(archivetest.ModernDailyHeader, map[string]string{
			"WBAN":         o.wban,
			"YearMonthDay": o.date.Format("20060102"),
			"Tmax":         itoa(o.temp + 10),
			"Tmin":         itoa(o.temp - 10),
			"Tavg":         itoa(o.temp),
			"PrecipTotal":  "0.00",
			"ResultSpeed":  itoa(o.wind),
			"ResultDir":    itoa(o.dir / 10),
			"AvgSpeed":     itoa(o.wind),
		}))
	}
	return rows
}

func legacyHourlyRows(in []obs) [][]string {
	rows := make([][]string, 0, len(in))
	for _, o := range in {
		rows = append(rows, archivetest.Row(archivetest.LegacyHourlyHeader, map[string]string{
			"Wban Number":        o.wban,
			"YearMonthDay":       o.date.Format("20060102"),
			"Time":               o.date.Format("1504"),
			"Station Type":       "AO2",
			"Sky Conditions":     "FEW020 BKN250",
			"Visibility":         "10SM",
			"Weather Type":       o.wx,
			"Dry Bulb Temp":      itoa(o.temp),
			"Dew Point Temp":     itoa(o.temp - 8),
			"Wind Speed (kt)":    itoa(o.wind),
			"Wind Direction":     itoa(o.dir),
			"Sea Level Pressure": "30.01",
			"Record Type":        "AA",
			"Precip. Total":      "T",
		}))
	}
	return rows
}

func legacyDailyRows(in []obs) [][]string {
	rows := make([][]string, 0, len(in))
	for _, o := range in {
		rows = append(rows, archivetest.Row(archivetest.LegacyDailyHeader, map[string]string{
			"Wban Number":               o.wban,
			"YearMonthDay":              o.date.Format("20060102"),
			"Max Temp":                  itoa(o.temp + 10),
			"Min Temp":                  itoa(o.temp - 10),
			"Avg Temp":                  itoa(o.temp),
			"Precipitation Water Equiv": "0.00",
			"Wind Speed":                itoa(o.wind),
			"Wind Direction":            itoa(o.dir / 10),
		}))
	}
	return rows
}
