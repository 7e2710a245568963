package toxic

// EventKind is the mutation an Event requests.
type EventKind int

const (
	EventAdd EventKind = iota + 1
	EventUpdate
	EventRemove
)

func (k EventKind) String() string {
	switch k {
	case EventAdd:
		return "add"
	case EventUpdate:
		return "update"
	case EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event asks a running proxy to add, update or remove a toxic.
//
// Add and update carry the full Toxic. Remove carries a Name and, optionally,
// a Stream; without a stream the upstream list is searched first.
type Event struct {
	Kind   EventKind
	Toxic  Toxic
	Name   string
	Stream Direction
}

func AddEvent(t Toxic) Event {
	return Event{Kind: EventAdd, Toxic: t, Name: t.Name, Stream: t.Stream}
}

func UpdateEvent(t Toxic) Event {
	return Event{Kind: EventUpdate, Toxic: t, Name: t.Name, Stream: t.Stream}
}

func RemoveEvent(stream Direction, name string) Event {
	return Event{Kind: EventRemove, Name: name, Stream: stream}
}
