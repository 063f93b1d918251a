package booking

import "time"

type EventKind string

const (
	EventTargetAdded        EventKind = "target_added"
	EventTargetRemoved      EventKind = "target_removed"
	EventReservationSuccess EventKind = "reservation_success"
	EventReservationFailure EventKind = "reservation_failure"
	EventCampaignExpired    EventKind = "campaign_expired"
	EventBurstExhausted     EventKind = "burst_exhausted"
	EventSchedulingFault    EventKind = "scheduling_fault"
)

// Removal reasons carried in target_removed events.
const (
	ReasonBooked   = "booked"
	ReasonOperator = "operator"
)

// Event is one structured outcome. Fields that do not apply stay zero.
type Event struct {
	Kind     EventKind `json:"kind"`
	At       time.Time `json:"at"`
	Target   Target    `json:"target"`
	CourtID  int       `json:"court_id,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Count    int       `json:"count,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
}

// Notifier receives outcomes. Notify must not block on delivery.
type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

func NopNotifier() Notifier { return nopNotifier{} }
