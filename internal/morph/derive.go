package morph

import "math"

// Magnus relation constants over liquid water.
const (
	magnusB = 17.67
	magnusC = 243.5 // degrees C
)

// saturationPressure returns the saturation vapor pressure in hPa at a
// temperature in degrees C (Magnus form).
func saturationPressure(tempC float64) float64 {
	return 6.112 * math.Exp(magnusB*tempC/(tempC+magnusC))
}

// DewPoint computes the dew point from temperature (C) and relative
// humidity (%) with the Magnus relation. The result never exceeds the
// temperature: at 100% humidity they coincide.
func DewPoint(tempC, relHum float64) float64 {
	if relHum < 1 {
		relHum = 1
	}
	if relHum > 100 {
		relHum = 100
	}
	gamma := math.Log(relHum/100) + magnusB*tempC/(magnusC+tempC)
	td := magnusC * gamma / (magnusB - gamma)
	return math.Min(td, tempC)
}

// OpaqueSkyCover scales the present opaque fraction of total sky cover
// onto the morphed total cover. An hour with a clear present sky keeps
// its present opaque value: there is no fraction to project.
func OpaqueSkyCover(presentOpaque, presentTotal, morphedTotal float64) float64 {
	if presentTotal <= 0 {
		return presentOpaque
	}
	out := presentOpaque / presentTotal * morphedTotal
	return math.Min(out, morphedTotal)
}

// relHumAdjust converts a specific-humidity stretch into a relative
// humidity value, correcting for the shifts in temperature and pressure
// that morphing already applied. Relative humidity is proportional to
// w·P/es(T), so:
//
//	rh' = rh · r_huss · (P'/P) · (es(T)/es(T'))
func relHumAdjust(relHum, hussRatio, oldTemp, newTemp, oldPressure, newPressure float64) float64 {
	out := relHum * hussRatio
	if oldPressure > 0 {
		out *= newPressure / oldPressure
	}
	out *= saturationPressure(oldTemp) / saturationPressure(newTemp)
	return out
}
