package domain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestParseWeatherCode(t *testing.T) {
	tests := []struct {
		code          string
		want          []WeatherToken
		wantRemainder string
	}{
		{
			code: "-RA",
			want: []WeatherToken{{Intensity: "Light", Precipitation: "Rain"}},
		},
		{
			code: "+TSRAGR",
			want: []WeatherToken{
				{Intensity: "Heavy", Descriptor: "Thunderstorm", Precipitation: "Rain"},
				{Precipitation: "Hail"},
			},
		},
		{
			code: "FZFG",
			want: []WeatherToken{{Descriptor: "Freezing", Obscuration: "Fog"}},
		},
		{
			code: "BLSN",
			want: []WeatherToken{{Descriptor: "Blowing", Precipitation: "Snow"}},
		},
		{
			code: "VCSH",
			want: []WeatherToken{{Vicinity: "Vicinity", Descriptor: "Shower(s)"}},
		},
		{
			code: "FG+",
			want: []WeatherToken{{Obscuration: "Heavy Fog"}},
		},
		{
			code: "RASNPL",
			want: []WeatherToken{
				{Precipitation: "Rain"},
				{Precipitation: "Snow"},
				{Precipitation: "Ice Pellets"},
			},
		},
		{
			code: "+FC",
			want: []WeatherToken{{Intensity: "Heavy", Other: "Funnel Cloud"}},
		},
		{
			code:          "RAXX",
			want:          []WeatherToken{{Precipitation: "Rain"}},
			wantRemainder: "XX",
		},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			got, rest := ParseWeatherCode(tc.code)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseWeatherCode(%q) mismatch (-want +got):\n%s", tc.code, diff)
			}
			assert.Equal(t, tc.wantRemainder, rest)
		})
	}
}

func TestParseWeatherTypes(t *testing.T) {
	t.Run("empty and dash mean none", func(t *testing.T) {
		for _, s := range []string{"", "  ", "-"} {
			tokens, unparsed := ParseWeatherTypes(s)
			assert.Empty(t, tokens)
			assert.Empty(t, unparsed)
		}
	})

	t.Run("multiple codes flatten", func(t *testing.T) {
		tokens, unparsed := ParseWeatherTypes("-RA BR")
		assert.Equal(t, []WeatherToken{
			{Intensity: "Light", Precipitation: "Rain"},
			{Obscuration: "Mist"},
		}, tokens)
		assert.Empty(t, unparsed)
	})

	t.Run("repeated spaces do not make empty tokens", func(t *testing.T) {
		tokens, _ := ParseWeatherTypes("RA  BR")
		assert.Len(t, tokens, 2)
	})

	t.Run("leftover is reported", func(t *testing.T) {
		tokens, unparsed := ParseWeatherTypes("TSRA QQ")
		assert.Len(t, tokens, 2)
		assert.Equal(t, []string{"QQ"}, unparsed)
	})
}

func TestFormatWeatherTypes(t *testing.T) {
	assert.Empty(t, FormatWeatherTypes(nil))

	tokens, _ := ParseWeatherTypes("-RA +TSRAGR")
	assert.Equal(t,
		`{{"Light",NULL,NULL,"Rain",NULL,NULL},{"Heavy",NULL,"Thunderstorm","Rain",NULL,NULL},{NULL,NULL,NULL,"Hail",NULL,NULL}}`,
		FormatWeatherTypes(tokens))
}
