/*
conductor.go AC resistance model for low voltage cables. The skin-effect and
iron-loss corrections follow the empirical cubic fits used by the line loss
analysis library; resistance is recomputed per span current, never cached.
*/

package conductor

import (
	"math"
)

// Conductor holds the catalog parameters of one cable type.
type Conductor struct {
	Name  string
	Rdc   float64 // DC resistance at T0 [Ohm/km]
	T0    float64 // reference temperature [C]
	Do    float64 // outer diameter [mm]
	Di    float64 // inner diameter [mm]
	Freq  float64 // system frequency [Hz]
	S     float64 // cross section [mm2]
	Alpha float64 // resistivity temperature coefficient [1/C]
}

// Default returns the fallback conductor used when a catalog lookup misses.
func Default() Conductor {
	return Conductor{
		Name:  "DEFAULT",
		Rdc:   0.2,
		T0:    20.0,
		Do:    10,
		Di:    1,
		Freq:  50,
		S:     10,
		Alpha: 0.004,
	}
}

// Resistance returns the AC resistance [Ohm/km] at the given current [A] and
// operating temperature [C]. X1 drives the skin-effect coefficient K1, X2 the
// iron-loss coefficient K2; both corrections multiply the DC resistance before
// the linear temperature scaling.
func (c Conductor) Resistance(current, temp float64) float64 {
	x1 := ((c.Do + 2*c.Di) / (c.Do + c.Di)) * 0.01 *
		math.Sqrt((8*math.Pi*c.Freq*(c.Do-c.Di))/(c.Rdc*(c.Do+c.Di)))
	x2 := current / c.S

	k1 := 0.99609 + 0.018578*x1 - 0.030263*x1*x1 + 0.020735*x1*x1*x1
	k2 := 0.99947 + 0.028895*x2 - 0.005934*x2*x2 + 0.00042259*x2*x2*x2

	rac0 := k1 * k2 * c.Rdc
	return rac0 * (1 + c.Alpha*(temp-c.T0))
}
