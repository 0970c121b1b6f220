package metar

import (
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
)

// ToObservation maps a decoded report onto the METAR observation table for the
// given WBAN station.
func ToObservation(rep Report, wban string) (domain.MetarObservation, error) {
	obs := domain.MetarObservation{
		WBAN:            wban,
		CallSign:        rep.StationID,
		Datetime:        rep.Time.UTC(),
		Visibility:      rep.VisibilityMiles,
		TempF:           celsiusToFahrenheit(rep.TempC),
		DewPointF:       celsiusToFahrenheit(rep.DewPointC),
		WindSpeed:       rep.WindSpeedKt,
		WindGust:        rep.WindGustKt,
		StationPressure: rep.AltimeterInHg,
		Precip1h:        rep.Precip1hIn,
		Precip3h:        rep.Precip3hIn,
		Precip6h:        rep.Precip6hIn,
		Precip24h:       rep.Precip24hIn,
	}

	if len(rep.Sky) > 0 {
		layers := make([]string, len(rep.Sky))
		for i, l := range rep.Sky {
			layers[i] = l.String()
		}
		obs.SkyCondition = strings.Join(layers, " ")
		obs.SkyConditionTop = layers[len(layers)-1]
	}

	if rep.SeaLevelPressureMb != nil {
		v := math.Round(*rep.SeaLevelPressureMb*hPaToInHg*100) / 100
		obs.SeaLevelPressure = &v
	}

	tokens, _ := domain.ParseWeatherTypes(strings.Join(rep.Weather, " "))
	obs.WeatherTypes = tokens

	var speed *float64
	if rep.WindSpeedKt != nil {
		s := float64(*rep.WindSpeedKt)
		speed = &s
	}
	dir := ""
	switch {
	case rep.WindVariable:
		dir = domain.VariableWind
	case rep.WindDirDegrees != nil:
		dir = strconv.Itoa(*rep.WindDirDegrees)
	}
	wind, err := domain.ParseWind(speed, dir)
	if err != nil {
		return domain.MetarObservation{}, err
	}
	obs.Wind = wind
	return obs, nil
}

func celsiusToFahrenheit(c *float64) *float64 {
	if c == nil {
		return nil
	}
	f := math.Round((*c*9/5+32)*10) / 10
	return &f
}
