package registry

// EventKind names the state transition an event reports.
type EventKind uint8

const (
	ClaimCreated EventKind = iota + 1
	ClaimRevoked
	ClaimTransferred
)

// String returns the event name published to indexers. The transfer
// event keeps its historical spelling so existing subscribers match.
func (k EventKind) String() string {
	switch k {
	case ClaimCreated:
		return "ClaimCreated"
	case ClaimRevoked:
		return "ClaimRevoked"
	case ClaimTransferred:
		return "ClaimTransfered"
	default:
		return "Unknown"
	}
}

// Event is emitted once for every successful registry operation.
type Event struct {
	Kind EventKind
	// Who is the caller that performed the operation.
	Who AccountID
	// Target is the new owner. Only set for ClaimTransferred.
	Target AccountID
	Claim  Claim
}

// EventSink receives events in commit order.
type EventSink interface {
	Emit(Event)
}

// EventLog is an append-only in-memory EventSink.
type EventLog []Event

// Emit appends ev to the log.
func (l *EventLog) Emit(ev Event) {
	*l = append(*l, ev)
}

// Discard is an EventSink that drops every event.
var Discard EventSink = discard{}

type discard struct{}

func (discard) Emit(Event) {}
