package metar

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultHeaderLines is the size of the preamble the aviationweather.gov
// cache files carry before the CSV header.
const DefaultHeaderLines = 5

const feedTimeLayout = "2006-01-02T15:04:05Z"

// FeedRow is one line of the METAR cache feed.
type FeedRow struct {
	RawText         string
	StationID       string
	ObservationTime time.Time
}

var requiredFeedColumns = []string{"raw_text", "station_id", "observation_time"}

// ParseFeed reads the METAR cache CSV. skipLines preamble lines are discarded
// before the header. Rows with an unparseable observation time are skipped and
// counted in the returned skipped total.
func ParseFeed(r io.Reader, skipLines int) (rows []FeedRow, skipped int, err error) {
	br := bufio.NewReader(r)
	for i := 0; i < skipLines; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, 0, fmt.Errorf("metar feed: preamble truncated after %d lines", i)
			}
			return nil, 0, fmt.Errorf("metar feed: read preamble: %w", err)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("metar feed: read header: %w", err)
	}
	// Some column names (sky_cover, cloud_base_ft_agl) repeat; the first wins.
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}
	for _, col := range requiredFeedColumns {
		if _, ok := index[col]; !ok {
			return nil, 0, fmt.Errorf("metar feed: header missing %q", col)
		}
	}
	rawIdx, stationIdx, timeIdx := index["raw_text"], index["station_id"], index["observation_time"]
	width := max(rawIdx, stationIdx, timeIdx) + 1

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, skipped, fmt.Errorf("metar feed: %w", err)
		}
		if len(rec) < width {
			skipped++
			continue
		}
		t, err := time.Parse(feedTimeLayout, strings.TrimSpace(rec[timeIdx]))
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, FeedRow{
			RawText:         strings.TrimSpace(rec[rawIdx]),
			StationID:       strings.TrimSpace(rec[stationIdx]),
			ObservationTime: t,
		})
	}
	return rows, skipped, nil
}
