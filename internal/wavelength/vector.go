// Package wavelength provides the four-channel value used throughout the
// absorbance pipeline. Every channel of a Vector is always present; there is
// no partial vector.
package wavelength

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/banshee-data/evidense/internal/jsonutil"
)

// Channel identifies one of the four instrument wavelengths.
type Channel int

const (
	Channel230 Channel = iota
	Channel260
	Channel280
	Channel340
)

// Channels lists the wavelengths in instrument order.
var Channels = [4]Channel{Channel230, Channel260, Channel280, Channel340}

// Nanometres returns the nominal wavelength of the channel.
func (c Channel) Nanometres() int {
	switch c {
	case Channel230:
		return 230
	case Channel260:
		return 260
	case Channel280:
		return 280
	case Channel340:
		return 340
	default:
		return 0
	}
}

// Key returns the JSON object key used for the channel ("230", "260", ...).
func (c Channel) Key() string {
	return fmt.Sprintf("%d", c.Nanometres())
}

func (c Channel) String() string {
	return fmt.Sprintf("%dnm", c.Nanometres())
}

// Vector holds one value per wavelength. Operations never mutate the
// receiver; they return a new Vector.
type Vector struct {
	V230 float64 `json:"230"`
	V260 float64 `json:"260"`
	V280 float64 `json:"280"`
	V340 float64 `json:"340"`
}

// New builds a vector from four explicit channel values.
func New(v230, v260, v280, v340 float64) Vector {
	return Vector{V230: v230, V260: v260, V280: v280, V340: v340}
}

// Broadcast builds a vector with the same value in every channel.
func Broadcast(v float64) Vector {
	return Vector{V230: v, V260: v, V280: v, V340: v}
}

// Unity is the neutral correction vector.
var Unity = Broadcast(1)

// FromArray builds a vector from channel values in instrument order.
func FromArray(a [4]float64) Vector {
	return New(a[0], a[1], a[2], a[3])
}

// Array returns the channel values in instrument order.
func (v Vector) Array() [4]float64 {
	return [4]float64{v.V230, v.V260, v.V280, v.V340}
}

// At returns the value of a single channel.
func (v Vector) At(c Channel) float64 {
	switch c {
	case Channel230:
		return v.V230
	case Channel260:
		return v.V260
	case Channel280:
		return v.V280
	case Channel340:
		return v.V340
	default:
		panic(fmt.Sprintf("wavelength: unknown channel %d", int(c)))
	}
}

func (v Vector) zip(o Vector, f func(a, b float64) float64) Vector {
	return Vector{
		V230: f(v.V230, o.V230),
		V260: f(v.V260, o.V260),
		V280: f(v.V280, o.V280),
		V340: f(v.V340, o.V340),
	}
}

func (v Vector) each(f func(a float64) float64) Vector {
	return Vector{V230: f(v.V230), V260: f(v.V260), V280: f(v.V280), V340: f(v.V340)}
}

// Add returns v + o per channel.
func (v Vector) Add(o Vector) Vector {
	return v.zip(o, func(a, b float64) float64 { return a + b })
}

// AddScalar returns v + s per channel.
func (v Vector) AddScalar(s float64) Vector {
	return v.Add(Broadcast(s))
}

// Sub returns v - o per channel.
func (v Vector) Sub(o Vector) Vector {
	return v.zip(o, func(a, b float64) float64 { return a - b })
}

// SubScalar returns v - s per channel.
func (v Vector) SubScalar(s float64) Vector {
	return v.Sub(Broadcast(s))
}

// Mul returns v * o per channel.
func (v Vector) Mul(o Vector) Vector {
	return v.zip(o, func(a, b float64) float64 { return a * b })
}

// MulScalar returns v * s per channel.
func (v Vector) MulScalar(s float64) Vector {
	return v.Mul(Broadcast(s))
}

// Div returns v / o per channel. A zero divisor channel yields +Inf, -Inf or
// NaN following IEEE 754; it is not an error.
func (v Vector) Div(o Vector) Vector {
	return v.zip(o, func(a, b float64) float64 { return a / b })
}

// DivScalar returns v / s per channel with the same semantics as Div.
func (v Vector) DivScalar(s float64) Vector {
	return v.Div(Broadcast(s))
}

// Abs returns |v| per channel.
func (v Vector) Abs() Vector {
	return v.each(math.Abs)
}

// Log10 returns log10(v) per channel.
func (v Vector) Log10() Vector {
	return v.each(math.Log10)
}

// LessEq reports whether v <= o holds in all four channels.
func (v Vector) LessEq(o Vector) bool {
	return v.V230 <= o.V230 && v.V260 <= o.V260 && v.V280 <= o.V280 && v.V340 <= o.V340
}

// GreaterEq reports whether v >= o holds in all four channels.
func (v Vector) GreaterEq(o Vector) bool {
	return o.LessEq(v)
}

func (v Vector) String() string {
	return fmt.Sprintf("230=%g, 260=%g, 280=%g, 340=%g", v.V230, v.V260, v.V280, v.V340)
}

type vectorJSON struct {
	V230 jsonutil.Float `json:"230"`
	V260 jsonutil.Float `json:"260"`
	V280 jsonutil.Float `json:"280"`
	V340 jsonutil.Float `json:"340"`
}

// MarshalJSON writes non-finite channels as strings so that derived vectors
// (factors, spreads) can be persisted.
func (v Vector) MarshalJSON() ([]byte, error) {
	return json.Marshal(vectorJSON{
		V230: jsonutil.Float(v.V230),
		V260: jsonutil.Float(v.V260),
		V280: jsonutil.Float(v.V280),
		V340: jsonutil.Float(v.V340),
	})
}

func (v *Vector) UnmarshalJSON(data []byte) error {
	var raw vectorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = New(float64(raw.V230), float64(raw.V260), float64(raw.V280), float64(raw.V340))
	return nil
}
