package morph

import (
	"math"

	"github.com/buildenergy/epwmorph/internal/domain"
)

// Solar position and the radiation derivations built on it. Diffuse
// horizontal radiation is recomputed from the morphed global horizontal
// with the Ridley, Boland and Lauret multi-predictor diffuse-fraction
// model (Renewable Energy 35, 2010); direct normal follows from the
// closure relation between global, diffuse, and the solar zenith.

const degToRad = math.Pi / 180

// solarHour is the sun's position for one hour of the fixed non-leap
// year at a site.
type solarHour struct {
	altitude  float64 // degrees above the horizon, negative at night
	cosZenith float64
	solarTime float64 // local solar time in fractional hours
}

// solarGeometry computes hourly solar positions from the site metadata:
// Spencer series for declination and the equation of time, the
// longitude correction within the time zone, then the hour angle.
func solarGeometry(loc domain.Location) []solarHour {
	out := make([]solarHour, domain.HoursPerYear)
	latRad := loc.Latitude * degToRad
	meridian := 15 * loc.TimezoneOffset

	for h := range out {
		doy := float64(h/24 + 1)
		gamma := 2 * math.Pi * (doy - 1) / 365

		decl := 0.006918 - 0.399912*math.Cos(gamma) + 0.070257*math.Sin(gamma) -
			0.006758*math.Cos(2*gamma) + 0.000907*math.Sin(2*gamma) -
			0.002697*math.Cos(3*gamma) + 0.00148*math.Sin(3*gamma)
		eqTime := 229.18 * (0.000075 + 0.001868*math.Cos(gamma) - 0.032077*math.Sin(gamma) -
			0.014615*math.Cos(2*gamma) - 0.040849*math.Sin(2*gamma))

		correction := 4*(loc.Longitude-meridian) + eqTime // minutes
		solarTime := float64(domain.HourOfDay(h)) + correction/60
		hourAngle := 15 * (solarTime - 12) * degToRad

		cosZ := math.Sin(latRad)*math.Sin(decl) +
			math.Cos(latRad)*math.Cos(decl)*math.Cos(hourAngle)
		out[h] = solarHour{
			altitude:  math.Asin(clampUnit(cosZ)) / degToRad,
			cosZenith: cosZ,
			solarTime: solarTime,
		}
	}
	return out
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// hourlyClearness is the ratio of global horizontal to extraterrestrial
// horizontal radiation, zero whenever the extraterrestrial term is zero.
func hourlyClearness(glohor, exthor []float64) []float64 {
	out := make([]float64, len(glohor))
	for h := range glohor {
		if exthor[h] > 0 {
			out[h] = glohor[h] / exthor[h]
		}
	}
	return out
}

// dailyClearness broadcasts each day's total clearness to its 24 hours.
func dailyClearness(glohor, exthor []float64) []float64 {
	out := make([]float64, len(glohor))
	for d := 0; d < len(glohor)/24; d++ {
		var sumG, sumE float64
		for h := d * 24; h < (d+1)*24; h++ {
			sumG += glohor[h]
			sumE += exthor[h]
		}
		ratio := 0.0
		if sumE > 0 {
			ratio = sumG / sumE
		}
		for h := d * 24; h < (d+1)*24; h++ {
			out[h] = ratio
		}
	}
	return out
}

// persistence smooths hourly clearness for the diffuse-fraction model:
// the mean of the neighbouring hours, except at sunrise (next hour only)
// and sunset (previous hour only), where one neighbour is dark.
func persistence(clearness []float64, geometry []solarHour) []float64 {
	out := make([]float64, len(clearness))
	last := len(clearness) - 1
	for h := range clearness {
		switch {
		case h == 0 || h == last:
			out[h] = clearness[h]
		case geometry[h].altitude > 0 && geometry[h-1].altitude <= 0: // sunrise
			out[h] = clearness[h+1]
		case geometry[h].altitude > 0 && geometry[h+1].altitude <= 0: // sunset
			out[h] = clearness[h-1]
		default:
			out[h] = (clearness[h-1] + clearness[h+1]) / 2
		}
	}
	return out
}

// diffuseFraction evaluates the Ridley-Boland-Lauret logistic model.
func diffuseFraction(clearness, solarTime, altitude, daily, persist float64) float64 {
	return 1 / (1 + math.Exp(-5.38+6.63*clearness+0.006*solarTime-
		0.007*altitude+1.75*daily+1.31*persist))
}

// DiffuseHorizontal recomputes diffuse horizontal radiation from a
// global horizontal series and the site's extraterrestrial horizontal
// column. Dark hours stay zero.
func DiffuseHorizontal(loc domain.Location, glohor, exthor []float64) []float64 {
	geometry := solarGeometry(loc)
	clearness := hourlyClearness(glohor, exthor)
	daily := dailyClearness(glohor, exthor)
	persist := persistence(clearness, geometry)

	out := make([]float64, len(glohor))
	for h := range glohor {
		if glohor[h] <= 0 {
			continue
		}
		frac := diffuseFraction(clearness[h], geometry[h].solarTime,
			geometry[h].altitude, daily[h], persist[h])
		out[h] = glohor[h] * frac
	}
	return out
}

// minCosZenith keeps the closure relation from blowing up when the sun
// grazes the horizon (about 3 degrees altitude).
const minCosZenith = 0.05

// DirectNormal derives direct normal radiation from global and diffuse
// horizontal via the closure relation dni = (ghi - dhi) / cos(zenith),
// zero at night and near the horizon.
func DirectNormal(loc domain.Location, glohor, diffhor []float64) []float64 {
	geometry := solarGeometry(loc)
	out := make([]float64, len(glohor))
	for h := range glohor {
		if glohor[h] <= 0 || geometry[h].cosZenith < minCosZenith {
			continue
		}
		out[h] = math.Max(0, (glohor[h]-diffhor[h])/geometry[h].cosZenith)
	}
	return out
}
