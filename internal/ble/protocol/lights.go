package protocol

// LightType selects which light a scheme applies to.
type LightType uint8

const (
	LightBoil      LightType = 0x00 // lights up while the kettle heats
	LightBacklight LightType = 0x01 // night light
)

// Color is one point of a light scheme: at Percent of the temperature scale
// the kettle glows in R, G, B with the given Brightness.
type Color struct {
	Percent    uint8
	Brightness uint8
	R, G, B    uint8
}

// ColorScheme is the three point gradient of a light. ID is the light type
// when sent, and the scheme id reported by the appliance when read.
type ColorScheme struct {
	ID     uint8
	Colors [3]Color
}

const colorSchemeSize = 16

// DefaultScheme returns the blue-green-red gradient the official app
// installs for a light type.
func DefaultScheme(lt LightType) ColorScheme {
	scale := [3]uint8{0x28, 0x46, 0x64}
	if lt == LightBacklight {
		scale = [3]uint8{0x00, 0x32, 0x64}
	}
	const brightness = 0x5e
	return ColorScheme{
		ID: uint8(lt),
		Colors: [3]Color{
			{Percent: scale[0], Brightness: brightness, B: 0xff},
			{Percent: scale[1], Brightness: brightness, G: 0xff},
			{Percent: scale[2], Brightness: brightness, R: 0xff},
		},
	}
}

// DecodeColorScheme decodes a scheme id followed by three colors.
func DecodeColorScheme(p []byte) (ColorScheme, error) {
	if err := need(p, colorSchemeSize); err != nil {
		return ColorScheme{}, err
	}
	cs := ColorScheme{ID: p[0]}
	for i := range cs.Colors {
		c := p[1+5*i:]
		cs.Colors[i] = Color{Percent: c[0], Brightness: c[1], R: c[2], G: c[3], B: c[4]}
	}
	return cs, nil
}

func (cs ColorScheme) Bytes() []byte {
	p := make([]byte, 0, colorSchemeSize)
	p = append(p, cs.ID)
	for _, c := range cs.Colors {
		p = append(p, c.Percent, c.Brightness, c.R, c.G, c.B)
	}
	return p
}
