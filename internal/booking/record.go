package booking

import "time"

// ReservationRecord is one slot as reported by the gateway. Start and End
// keep the raw timestamps; a ReservationID <= 0 marks an empty slot.
type ReservationRecord struct {
	ReservationID  int64    `json:"reservation_id"`
	CourtID        int      `json:"court_id"`
	Start          string   `json:"start"`
	End            string   `json:"end"`
	ParticipantIDs []string `json:"participant_ids,omitempty"`
}

func (r ReservationRecord) Real() bool { return r.ReservationID > 0 }

// BookingRequest asks the gateway for one court at one window.
type BookingRequest struct {
	TargetID    string
	CourtID     int
	Date        string
	Start       string
	DurationMin int
}

func RequestFor(t Target, court int) BookingRequest {
	return BookingRequest{
		TargetID:    t.ID,
		CourtID:     court,
		Date:        t.Date,
		Start:       t.Start,
		DurationMin: t.DurationMin,
	}
}

// BookingResult is what the gateway confirmed.
type BookingResult struct {
	ReservationID int64     `json:"reservation_id"`
	CourtID       int       `json:"court_id"`
	BookedAt      time.Time `json:"booked_at"`
}
