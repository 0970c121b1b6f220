package domain

import (
	"strings"
)

// WeatherToken is one present-weather phenomenon broken into its six slots.
// An empty slot is null.
type WeatherToken struct {
	Intensity     string
	Vicinity      string
	Descriptor    string
	Precipitation string
	Obscuration   string
	Other         string
}

// Slots returns the token's fields in storage order.
func (t WeatherToken) Slots() [6]string {
	return [6]string{t.Intensity, t.Vicinity, t.Descriptor, t.Precipitation, t.Obscuration, t.Other}
}

type codeLabel struct {
	code  string
	label string
}

// Tables are ordered: the first matching prefix wins, so "FG+" must precede "FG".
var (
	intensityCodes = []codeLabel{
		{"-", "Light"},
		{"+", "Heavy"},
	}
	vicinityCodes = []codeLabel{
		{"VC", "Vicinity"},
	}
	descriptorCodes = []codeLabel{
		{"MI", "Shallow"},
		{"PR", "Partial"},
		{"BC", "Patches"},
		{"DR", "Low Drifting"},
		{"BL", "Blowing"},
		{"SH", "Shower(s)"},
		{"TS", "Thunderstorm"},
		{"FZ", "Freezing"},
	}
	precipitationCodes = []codeLabel{
		{"DZ", "Drizzle"},
		{"RA", "Rain"},
		{"SN", "Snow"},
		{"SG", "Snow Grains"},
		{"IC", "Ice Crystals"},
		{"PE", "Ice Pellets"},
		{"PL", "Ice Pellets"},
		{"GR", "Hail"},
		{"GS", "Small Hail"},
		{"UP", "Unknown Precipitation"},
	}
	obscurationCodes = []codeLabel{
		{"BR", "Mist"},
		{"FG+", "Heavy Fog"},
		{"FG", "Fog"},
		{"FU", "Smoke"},
		{"VA", "Volcanic Ash"},
		{"DU", "Widespread Dust"},
		{"SA", "Sand"},
		{"HZ", "Haze"},
		{"PY", "Spray"},
	}
	otherCodes = []codeLabel{
		{"PO", "Dust Devils"},
		{"SQ", "Squalls"},
		{"FC", "Funnel Cloud"},
		{"+FC", "Tornado Waterspout"},
		{"SS", "Sandstorm"},
		{"DS", "Duststorm"},
		{"GL", "Glaze"},
	}
)

// consume strips the first matching code from the front of s.
func consume(s string, table []codeLabel) (rest, label string) {
	for _, cl := range table {
		if strings.HasPrefix(s, cl.code) {
			return s[len(cl.code):], cl.label
		}
	}
	return s, ""
}

// consumeAll strips precipitation codes for as long as they match.
func consumeAll(s string, table []codeLabel) (rest string, labels []string) {
	for s != "" {
		var label string
		s, label = consume(s, table)
		if label == "" {
			break
		}
		labels = append(labels, label)
	}
	return s, labels
}

// ParseWeatherCode decodes a single present-weather code such as "-RA" or
// "TSRAGR". Stages run in order: intensity, vicinity, descriptor,
// precipitation (repeated), obscuration, other. The first precipitation fills
// the primary token; each further precipitation becomes its own token with
// every other slot null. Anything left after the last stage is returned as
// remainder for the caller to report.
func ParseWeatherCode(code string) (tokens []WeatherToken, remainder string) {
	var tok WeatherToken
	s := code
	s, tok.Intensity = consume(s, intensityCodes)
	s, tok.Vicinity = consume(s, vicinityCodes)
	s, tok.Descriptor = consume(s, descriptorCodes)

	s, precips := consumeAll(s, precipitationCodes)
	if len(precips) > 0 {
		tok.Precipitation = precips[0]
	}

	s, tok.Obscuration = consume(s, obscurationCodes)
	s, tok.Other = consume(s, otherCodes)

	tokens = append(tokens, tok)
	for _, p := range precips[min(1, len(precips)):] {
		tokens = append(tokens, WeatherToken{Precipitation: p})
	}
	return tokens, s
}

// ParseWeatherTypes decodes a whitespace-separated list of present-weather
// codes. Empty input and "-" mean no phenomena. Codes that could not be fully
// consumed are returned in unparsed, still contributing their decoded part.
func ParseWeatherTypes(s string) (tokens []WeatherToken, unparsed []string) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil, nil
	}
	for _, code := range strings.Fields(s) {
		toks, rest := ParseWeatherCode(code)
		tokens = append(tokens, toks...)
		if rest != "" {
			unparsed = append(unparsed, code)
		}
	}
	return tokens, unparsed
}

// FormatWeatherTypes renders tokens as a two-dimensional Postgres text
// array literal, e.g. {{"Light",NULL,NULL,"Rain",NULL,NULL}}. No tokens
// renders as the empty string, which loads as NULL.
func FormatWeatherTypes(tokens []WeatherToken) string {
	if len(tokens) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('{')
		for j, slot := range tok.Slots() {
			if j > 0 {
				b.WriteByte(',')
			}
			if slot == "" {
				b.WriteString("NULL")
				continue
			}
			b.WriteByte('"')
			b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(slot))
			b.WriteByte('"')
		}
		b.WriteByte('}')
	}
	b.WriteByte('}')
	return b.String()
}
