package proxy

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/die-net/noxious/internal/toxic"
)

// Toxics is a proxy's traffic-shaping configuration. Each list is applied in
// order.
type Toxics struct {
	Upstream   []toxic.Toxic
	Downstream []toxic.Toxic
}

// NewToxics splits a flat list of toxics by direction.
func NewToxics(list []toxic.Toxic) Toxics {
	var t Toxics
	for _, tx := range list {
		if tx.Stream == toxic.Upstream {
			t.Upstream = append(t.Upstream, tx)
		} else {
			t.Downstream = append(t.Downstream, tx)
		}
	}
	return t
}

// Clone returns a copy that does not share list storage with t.
func (t Toxics) Clone() Toxics {
	return Toxics{
		Upstream:   slices.Clone(t.Upstream),
		Downstream: slices.Clone(t.Downstream),
	}
}

// All returns upstream toxics followed by downstream ones.
func (t Toxics) All() []toxic.Toxic {
	return slices.Concat(t.Upstream, t.Downstream)
}

// FindByName looks for name upstream, then downstream.
func (t Toxics) FindByName(name string) (toxic.Toxic, bool) {
	for _, list := range [][]toxic.Toxic{t.Upstream, t.Downstream} {
		if i := toxic.Index(list, name); i >= 0 {
			return list[i], true
		}
	}
	return toxic.Toxic{}, false
}

func (t *Toxics) list(dir toxic.Direction) *[]toxic.Toxic {
	if dir == toxic.Upstream {
		return &t.Upstream
	}
	return &t.Downstream
}

// Apply mutates t according to ev. On error t is left unchanged.
func (t *Toxics) Apply(ev toxic.Event) error {
	switch ev.Kind {
	case toxic.EventAdd:
		if err := ev.Toxic.Validate(); err != nil {
			return err
		}
		list := t.list(ev.Toxic.Stream)
		if toxic.Index(*list, ev.Toxic.Name) >= 0 {
			return fmt.Errorf("%s: %w", ev.Toxic.Name, toxic.ErrAlreadyExists)
		}
		*list = append(*list, ev.Toxic)
		return nil

	case toxic.EventUpdate:
		if err := ev.Toxic.Validate(); err != nil {
			return err
		}
		list := t.list(ev.Toxic.Stream)
		i := toxic.Index(*list, ev.Toxic.Name)
		if i < 0 {
			return fmt.Errorf("%s: %w", ev.Toxic.Name, toxic.ErrNotFound)
		}
		(*list)[i] = ev.Toxic
		return nil

	case toxic.EventRemove:
		dirs := []toxic.Direction{toxic.Upstream, toxic.Downstream}
		if ev.Stream.Valid() {
			dirs = []toxic.Direction{ev.Stream}
		}
		for _, dir := range dirs {
			list := t.list(dir)
			if i := toxic.Index(*list, ev.Name); i >= 0 {
				*list = slices.Delete(*list, i, i+1)
				return nil
			}
		}
		return fmt.Errorf("%s: %w", ev.Name, toxic.ErrNotFound)

	default:
		return fmt.Errorf("unknown toxic event kind %d", ev.Kind)
	}
}

// Diff returns the events that turn t into next: removals, then updates,
// then additions in next's order. Reordering existing toxics is not
// expressible as events and is ignored.
func (t Toxics) Diff(next Toxics) []toxic.Event {
	var removes, updates, adds []toxic.Event
	for _, dir := range []toxic.Direction{toxic.Upstream, toxic.Downstream} {
		cur, want := *t.list(dir), *next.list(dir)
		for _, c := range cur {
			if toxic.Index(want, c.Name) < 0 {
				removes = append(removes, toxic.RemoveEvent(dir, c.Name))
			}
		}
		for _, w := range want {
			i := toxic.Index(cur, w.Name)
			switch {
			case i < 0:
				adds = append(adds, toxic.AddEvent(w))
			case !reflect.DeepEqual(cur[i], w):
				updates = append(updates, toxic.UpdateEvent(w))
			}
		}
	}
	return slices.Concat(removes, updates, adds)
}
