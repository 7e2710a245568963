package toxic

import (
	"errors"
	"fmt"
	"math/rand/v2"

	json "github.com/goccy/go-json"
)

var (
	// ErrNotFound is returned when an update or removal names a toxic that
	// does not exist.
	ErrNotFound = errors.New("toxic not found")
	// ErrAlreadyExists is returned when adding a toxic whose name is already
	// used in the same direction.
	ErrAlreadyExists = errors.New("toxic already exists")
)

// Kind is the transform a toxic applies. Implementations read chunks from
// the stub's input and write to its output until the input ends, the output
// goes away, or the stub is stopped.
type Kind interface {
	// Type is the kind's wire name, e.g. "latency".
	Type() string
	Pipe(s *Stub) error
}

// Stateful kinds keep state in the connection's StateHolder.
type Stateful interface {
	Kind
	NewState() any
}

var kinds = map[string]func() Kind{
	"noop":       func() Kind { return &Noop{} },
	"slow_close": func() Kind { return &SlowClose{} },
	"latency":    func() Kind { return &Latency{} },
	"bandwidth":  func() Kind { return &Bandwidth{} },
	"slicer":     func() Kind { return &Slicer{} },
	"limit_data": func() Kind { return &LimitData{} },
	"timeout":    func() Kind { return &Timeout{} },
}

// NewKind returns a zero-valued Kind for typ.
func NewKind(typ string) (Kind, error) {
	f, ok := kinds[typ]
	if !ok {
		return nil, fmt.Errorf("unknown toxic type %q", typ)
	}
	return f(), nil
}

// Toxic is a named transform attached to one direction of a proxy.
type Toxic struct {
	Name   string
	Stream Direction
	// Toxicity is the probability, 0 to 1, that the toxic is applied when a
	// link is built. Otherwise the link forwards data through a noop stage.
	Toxicity float32
	Kind     Kind
}

// Validate checks that t can be attached to a proxy.
func (t Toxic) Validate() error {
	switch {
	case t.Name == "":
		return errors.New("toxic name missing")
	case !t.Stream.Valid():
		return fmt.Errorf("toxic %s: invalid stream", t.Name)
	case t.Toxicity < 0 || t.Toxicity > 1:
		return fmt.Errorf("toxic %s: toxicity must be between 0 and 1", t.Name)
	case t.Kind == nil:
		return fmt.Errorf("toxic %s: missing type", t.Name)
	}
	return nil
}

// Roll decides whether the toxic applies to a new link.
func (t Toxic) Roll(r *rand.Rand) bool {
	if t.Toxicity >= 1 {
		return true
	}
	return r.Float32() < t.Toxicity
}

// Key returns the StateHolder key for t.
func (t Toxic) Key() string {
	return StateKey(t.Stream, t.Name)
}

type wireToxic struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Stream     Direction       `json:"stream"`
	Toxicity   *float32        `json:"toxicity,omitempty"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

func (t Toxic) MarshalJSON() ([]byte, error) {
	if t.Kind == nil {
		return nil, fmt.Errorf("toxic %s: missing type", t.Name)
	}
	attrs, err := json.Marshal(t.Kind)
	if err != nil {
		return nil, fmt.Errorf("toxic %s attributes: %w", t.Name, err)
	}
	toxicity := t.Toxicity
	return json.Marshal(wireToxic{
		Name:       t.Name,
		Type:       t.Kind.Type(),
		Stream:     t.Stream,
		Toxicity:   &toxicity,
		Attributes: attrs,
	})
}

// UnmarshalJSON decodes the Toxiproxy wire form. Stream defaults to
// downstream and toxicity to 1.
func (t *Toxic) UnmarshalJSON(b []byte) error {
	var w wireToxic
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	kind, err := NewKind(w.Type)
	if err != nil {
		return err
	}
	if len(w.Attributes) > 0 && string(w.Attributes) != "null" {
		if err := json.Unmarshal(w.Attributes, kind); err != nil {
			return fmt.Errorf("toxic %s attributes: %w", w.Name, err)
		}
	}

	*t = Toxic{Name: w.Name, Stream: w.Stream, Toxicity: 1, Kind: kind}
	if t.Stream == 0 {
		t.Stream = Downstream
	}
	if w.Toxicity != nil {
		t.Toxicity = *w.Toxicity
	}
	return nil
}

// Index returns the position of the toxic called name in list, or -1.
func Index(list []Toxic, name string) int {
	for i, t := range list {
		if t.Name == name {
			return i
		}
	}
	return -1
}
