// Package tempo fetches and interprets EDF Tempo tariff day colors.
package tempo

import "image/color"

// SentinelCode stands in for a code that could not be fetched.
const SentinelCode = "0"

// Color is the tariff color of a single day.
type Color int

const (
	Unknown Color = iota
	Blue
	White
	Red
)

// ParseColor maps an API code to a Color. Anything other than "1", "2"
// or "3" (including SentinelCode) is Unknown.
func ParseColor(code string) Color {
	switch code {
	case "1":
		return Blue
	case "2":
		return White
	case "3":
		return Red
	default:
		return Unknown
	}
}

func (c Color) String() string {
	switch c {
	case Blue:
		return "blue"
	case White:
		return "white"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// Code returns the API code for c, SentinelCode for Unknown.
func (c Color) Code() string {
	switch c {
	case Blue:
		return "1"
	case White:
		return "2"
	case Red:
		return "3"
	default:
		return SentinelCode
	}
}

// Panel colors, matching the TFT_eSPI palette the panel firmware used.
var (
	PanelBlue     = color.RGBA{R: 0x00, G: 0x00, B: 0xFF, A: 0xFF}
	PanelWhite    = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	PanelRed      = color.RGBA{R: 0xFF, G: 0x00, B: 0x00, A: 0xFF}
	PanelDarkGrey = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xFF}
)

// RGBA returns the fill color of a panel showing c.
func (c Color) RGBA() color.RGBA {
	switch c {
	case Blue:
		return PanelBlue
	case White:
		return PanelWhite
	case Red:
		return PanelRed
	default:
		return PanelDarkGrey
	}
}

// TextRGBA returns a color that stays readable on top of c.
func (c Color) TextRGBA() color.RGBA {
	if c == White {
		return color.RGBA{A: 0xFF}
	}
	return PanelWhite
}

// MarshalText encodes c by name so JSON payloads read "red" rather than 3.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
