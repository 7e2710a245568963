package toxic

import "fmt"

// Direction selects which half of a connection a toxic applies to.
type Direction int

const (
	// Upstream is client → upstream traffic.
	Upstream Direction = iota + 1
	// Downstream is upstream → client traffic.
	Downstream
)

func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return ""
	}
}

// Valid reports whether d is Upstream or Downstream.
func (d Direction) Valid() bool {
	return d == Upstream || d == Downstream
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "upstream":
		*d = Upstream
	case "downstream":
		*d = Downstream
	case "":
		*d = 0
	default:
		return fmt.Errorf("invalid stream direction %q", string(b))
	}
	return nil
}
