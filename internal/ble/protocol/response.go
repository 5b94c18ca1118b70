package protocol

import "fmt"

// Response is a decoded response payload. Every response can be encoded back
// to the payload it was decoded from, which is what fake peripherals use to
// answer requests.
type Response interface {
	Bytes() []byte
}

// Success is the reply of commands that report a success flag: any nonzero
// first byte means the appliance accepted the request.
type Success struct {
	OK bool
}

// DecodeSuccess decodes a success flag payload.
func DecodeSuccess(p []byte) (Success, error) {
	if err := need(p, 1); err != nil {
		return Success{}, err
	}
	return Success{OK: p[0] != 0}, nil
}

func (r Success) Bytes() []byte {
	if r.OK {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// Neutral is the reply of commands that report an error code, where zero
// means no error.
type Neutral struct {
	Code uint8
}

// DecodeNeutral decodes an error code payload.
func DecodeNeutral(p []byte) (Neutral, error) {
	if err := need(p, 1); err != nil {
		return Neutral{}, err
	}
	return Neutral{Code: p[0]}, nil
}

// OK reports whether the appliance returned no error.
func (r Neutral) OK() bool { return r.Code == 0 }

func (r Neutral) Bytes() []byte { return []byte{r.Code} }

// Version is the firmware version returned by the firmware command.
type Version struct {
	Major uint8
	Minor uint8
}

// DecodeVersion decodes the two byte firmware version.
func DecodeVersion(p []byte) (Version, error) {
	if err := need(p, 2); err != nil {
		return Version{}, err
	}
	return Version{Major: p[0], Minor: p[1]}, nil
}

func (r Version) Bytes() []byte { return []byte{r.Major, r.Minor} }

func (r Version) String() string { return fmt.Sprintf("%d.%d", r.Major, r.Minor) }
