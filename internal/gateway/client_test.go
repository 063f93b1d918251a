package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courtbot/internal/booking"
	logx "courtbot/pkg/logx"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/api/", Token: "secret", Timeout: 2 * time.Second, ParticipantIDs: []string{"p1"}}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestQueryBookings(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/reservations" || r.URL.Query().Get("date") != "2025-12-01" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_, _ = w.Write([]byte(`{"reservations":[{"id":5,"court_id":1,"start":"2025-12-01T18:00Z","end":"2025-12-01T19:00Z","participants":["a"]},{"id":0,"court_id":2,"start":"x","end":"y"}]}`))
	})

	recs, err := c.QueryBookings(context.Background(), "2025-12-01")
	if err != nil {
		t.Fatalf("QueryBookings: %v", err)
	}
	if len(recs) != 2 || recs[0].ReservationID != 5 || recs[0].CourtID != 1 || recs[1].Real() {
		t.Fatalf("records = %+v", recs)
	}
}

func TestAttemptBookingSendsRequest(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var body bookRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.CourtID != 3 || body.Start != "18:00" || body.DurationMin != 60 || len(body.Participants) != 1 {
			t.Errorf("body = %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":991,"court_id":3}`))
	})

	res, err := c.AttemptBooking(context.Background(), booking.BookingRequest{CourtID: 3, Date: "2025-12-01", Start: "18:00", DurationMin: 60})
	if err != nil {
		t.Fatalf("AttemptBooking: %v", err)
	}
	if res.ReservationID != 991 || res.CourtID != 3 {
		t.Fatalf("result = %+v", res)
	}
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, booking.IsAuth},
		{http.StatusForbidden, booking.IsAuth},
		{http.StatusConflict, func(err error) bool { return errors.Is(err, booking.ErrSlotTaken) }},
		{http.StatusBadGateway, func(err error) bool {
			var te *booking.TransientGatewayError
			return errors.As(err, &te) && te.Status == 502
		}},
		{http.StatusTooManyRequests, func(err error) bool {
			var te *booking.TransientGatewayError
			return errors.As(err, &te) && te.Status == 429
		}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := c.AttemptBooking(context.Background(), booking.BookingRequest{CourtID: 1})
			if err == nil || !tc.check(err) {
				t.Fatalf("status %d gave %v", tc.status, err)
			}
		})
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.QueryBookings(ctx, "2025-12-01")
	var te *booking.TransientGatewayError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want transient", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err should wrap the deadline: %v", err)
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{BaseURL: "reservations.local"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
