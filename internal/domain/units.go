package domain

// Conversions used only when presenting values to users.
const (
	MetersPerMile    = 1609.344
	SecondsPerHour   = 3600.0
	MillilitresPerOz = 29.5735295625
)

func MetersToMiles(m float64) float64 { return m / MetersPerMile }

func MilesToMeters(mi float64) float64 { return mi * MetersPerMile }

func SecondsToHours(s float64) float64 { return s / SecondsPerHour }

func HoursToSeconds(h float64) float64 { return h * SecondsPerHour }

func MillilitresToOunces(ml float64) float64 { return ml / MillilitresPerOz }

func OuncesToMillilitres(oz float64) float64 { return oz * MillilitresPerOz }
