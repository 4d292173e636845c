package measure

import "github.com/sells-group/calibration-cli/internal/model"

// Physical plausibility bounds for recorded environmental conditions. These
// reject obviously broken sensor data; they are not acceptance criteria.
var (
	PlausibleTemperature = model.Range{Min: -80, Max: 150}
	PlausibleHumidity    = model.Range{Min: 0, Max: 100}
	PlausiblePressure    = model.Range{Min: 300, Max: 1200}
)

// CheckEnvironmentalBounds rejects conditions that cannot be physically
// plausible readings from a laboratory environment.
func CheckEnvironmentalBounds(env model.EnvironmentalConditions) error {
	if !finite(env.TemperatureC) || !PlausibleTemperature.Contains(env.TemperatureC) {
		return model.InvalidInput(SetEnvironmental, "temperature",
			"%v °C outside plausible range %v..%v", env.TemperatureC, PlausibleTemperature.Min, PlausibleTemperature.Max)
	}
	if !finite(env.HumidityPct) || !PlausibleHumidity.Contains(env.HumidityPct) {
		return model.InvalidInput(SetEnvironmental, "humidity",
			"%v %%RH outside plausible range %v..%v", env.HumidityPct, PlausibleHumidity.Min, PlausibleHumidity.Max)
	}
	if env.PressureHPa != nil {
		p := *env.PressureHPa
		if !finite(p) || !PlausiblePressure.Contains(p) {
			return model.InvalidInput(SetEnvironmental, "pressure",
				"%v hPa outside plausible range %v..%v", p, PlausiblePressure.Min, PlausiblePressure.Max)
		}
	}
	if !env.Vibration.Valid() {
		return model.InvalidInput(SetEnvironmental, "vibration", "unknown vibration level %q", env.Vibration)
	}
	return nil
}
