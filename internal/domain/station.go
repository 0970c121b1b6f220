package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// unknownWBAN is the placeholder isd-history uses for stations without a WBAN.
const unknownWBAN = 99999

// StationHeader is the column order of the weather_stations table.
var StationHeader = []string{
	"usaf", "wban_code", "station_name", "country", "state", "call_sign",
	"latitude", "longitude", "elevation", "begin", "end", "location",
}

// Station is one entry of the NOAA Integrated Surface Database station history.
type Station struct {
	USAF      string
	WBAN      string
	Name      string
	Country   string
	State     string
	CallSign  string
	Latitude  float64
	Longitude float64
	Elevation float64
	Begin     time.Time
	End       time.Time
}

// Location renders the station point as EWKT.
func (s Station) Location() string {
	return fmt.Sprintf("SRID=4326;POINT(%s %s)",
		strconv.FormatFloat(s.Longitude, 'f', -1, 64),
		strconv.FormatFloat(s.Latitude, 'f', -1, 64))
}

// Values implements Record.
func (s Station) Values() []string {
	return []string{
		s.USAF,
		s.WBAN,
		s.Name,
		s.Country,
		s.State,
		s.CallSign,
		strconv.FormatFloat(s.Latitude, 'f', -1, 64),
		strconv.FormatFloat(s.Longitude, 'f', -1, 64),
		strconv.FormatFloat(s.Elevation, 'f', -1, 64),
		s.Begin.Format(dateLayout),
		s.End.Format(dateLayout),
		s.Location(),
	}
}

// Key implements Record.
func (s Station) Key() string { return s.WBAN }

// StationStats counts rows rejected while cleaning the station list.
type StationStats struct {
	Read       int
	Incomplete int
	Duplicate  int
	UnknownID  int
	NoLocation int
}

var stationColumns = []string{"USAF", "WBAN", "STATION NAME", "CTRY", "STATE", "ICAO", "LAT", "LON", "ELEV(M)", "BEGIN", "END"}

// ParseStationList reads isd-history.csv. Rows missing any field, repeating a
// WBAN, using the 99999 placeholder, or sitting at 0 latitude or longitude
// are discarded.
func ParseStationList(r io.Reader) ([]Station, StationStats, error) {
	var stats StationStats
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, stats, &SourceError{Source: "station list", Err: fmt.Errorf("read header: %w", err)}
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	idx := make([]int, len(stationColumns))
	for i, name := range stationColumns {
		p, ok := pos[name]
		if !ok {
			return nil, stats, &SourceError{Source: "station list", Err: fmt.Errorf("header missing column %q", name)}
		}
		idx[i] = p
	}

	var stations []Station
	seen := make(map[string]bool)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				stats.Incomplete++
				continue
			}
			return nil, stats, fmt.Errorf("read station list: %w", err)
		}
		stats.Read++

		fields := make([]string, len(idx))
		complete := true
		for i, p := range idx {
			if p >= len(rec) || strings.TrimSpace(rec[p]) == "" {
				complete = false
				break
			}
			fields[i] = strings.TrimSpace(rec[p])
		}
		if !complete {
			stats.Incomplete++
			continue
		}

		st, ok := parseStation(fields)
		if !ok {
			stats.Incomplete++
			continue
		}
		if seen[st.WBAN] {
			stats.Duplicate++
			continue
		}
		seen[st.WBAN] = true

		if st.WBAN == strconv.Itoa(unknownWBAN) {
			stats.UnknownID++
			continue
		}
		if st.Latitude == 0 || st.Longitude == 0 {
			stats.NoLocation++
			continue
		}
		stations = append(stations, st)
	}
	return stations, stats, nil
}

func parseStation(f []string) (Station, bool) {
	wban, err := strconv.Atoi(f[1])
	if err != nil {
		return Station{}, false
	}
	lat, errLat := strconv.ParseFloat(f[6], 64)
	lon, errLon := strconv.ParseFloat(f[7], 64)
	elev, errElev := strconv.ParseFloat(f[8], 64)
	begin, errBegin := time.Parse("20060102", f[9])
	end, errEnd := time.Parse("20060102", f[10])
	if errLat != nil || errLon != nil || errElev != nil || errBegin != nil || errEnd != nil {
		return Station{}, false
	}
	return Station{
		USAF:      f[0],
		WBAN:      strconv.Itoa(wban),
		Name:      f[2],
		Country:   f[3],
		State:     f[4],
		CallSign:  f[5],
		Latitude:  lat,
		Longitude: lon,
		Elevation: elev,
		Begin:     begin,
		End:       end,
	}, true
}

// CallsignIndex maps each station's call sign to its WBAN code. The first
// station wins when several share a call sign.
func CallsignIndex(stations []Station) map[string]string {
	out := make(map[string]string, len(stations))
	for _, s := range stations {
		if _, ok := out[s.CallSign]; !ok {
			out[s.CallSign] = s.WBAN
		}
	}
	return out
}
