// Package gateway is the HTTP client for the court reservation API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"courtbot/internal/booking"
	logx "courtbot/pkg/logx"
)

type Config struct {
	BaseURL    string
	Token      string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64 // 0 means unlimited
	RateBurst  int
	// ParticipantIDs are sent with every booking request.
	ParticipantIDs []string
}

// Metrics receives request latency per operation.
type Metrics interface {
	ObserveGateway(op, result string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveGateway(string, string, time.Duration) {}

type Client struct {
	mu      sync.RWMutex
	cfg     Config
	base    *url.URL
	hc      *http.Client
	limiter *rate.Limiter
	rt      http.RoundTripper

	log     logx.Logger
	metrics Metrics
}

type Option func(*Client)

// WithTransport replaces the default HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.rt = rt }
}

func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) (*Client, error) {
	c := &Client{log: log, metrics: nopMetrics{}}
	for _, o := range opts {
		o(c)
	}
	if err := c.Apply(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply swaps credentials, endpoint, timeout and rate on the fly.
func (c *Client) Apply(cfg Config) error {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("gateway base_url %q is not an absolute URL", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "courtbot/1"
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		b := cfg.RateBurst
		if b <= 0 {
			b = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), b)
	}

	c.mu.Lock()
	c.cfg = cfg
	c.base = base
	c.limiter = lim
	c.hc = &http.Client{Transport: c.rt, Timeout: cfg.Timeout}
	c.mu.Unlock()
	return nil
}

type wireReservation struct {
	ID           int64    `json:"id"`
	CourtID      int      `json:"court_id"`
	Start        string   `json:"start"`
	End          string   `json:"end"`
	Participants []string `json:"participants,omitempty"`
}

type listResponse struct {
	Reservations []wireReservation `json:"reservations"`
}

type bookRequest struct {
	CourtID      int      `json:"court_id"`
	Date         string   `json:"date"`
	Start        string   `json:"start"`
	DurationMin  int      `json:"duration_min"`
	Participants []string `json:"participants,omitempty"`
}

type bookResponse struct {
	ID      int64 `json:"id"`
	CourtID int   `json:"court_id"`
}

// QueryBookings lists every slot the API reports for date.
func (c *Client) QueryBookings(ctx context.Context, date string) ([]booking.ReservationRecord, error) {
	q := url.Values{"date": []string{date}}
	var out listResponse
	if err := c.do(ctx, "query", http.MethodGet, "/reservations", q, nil, &out); err != nil {
		return nil, err
	}
	recs := make([]booking.ReservationRecord, 0, len(out.Reservations))
	for _, r := range out.Reservations {
		recs = append(recs, booking.ReservationRecord{
			ReservationID:  r.ID,
			CourtID:        r.CourtID,
			Start:          r.Start,
			End:            r.End,
			ParticipantIDs: r.Participants,
		})
	}
	return recs, nil
}

// AttemptBooking asks for one court. A 409 is booking.ErrSlotTaken.
func (c *Client) AttemptBooking(ctx context.Context, req booking.BookingRequest) (booking.BookingResult, error) {
	c.mu.RLock()
	participants := c.cfg.ParticipantIDs
	c.mu.RUnlock()

	body := bookRequest{
		CourtID:      req.CourtID,
		Date:         req.Date,
		Start:        req.Start,
		DurationMin:  req.DurationMin,
		Participants: participants,
	}
	var out bookResponse
	if err := c.do(ctx, "book", http.MethodPost, "/reservations", nil, body, &out); err != nil {
		return booking.BookingResult{}, err
	}
	court := out.CourtID
	if court == 0 {
		court = req.CourtID
	}
	return booking.BookingResult{ReservationID: out.ID, CourtID: court, BookedAt: time.Now()}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, in, out any) (err error) {
	c.mu.RLock()
	cfg, base, lim, hc := c.cfg, c.base, c.limiter, c.hc
	c.mu.RUnlock()

	start := time.Now()
	result := "ok"
	defer func() {
		if err != nil {
			result = resultLabel(err)
		}
		took := time.Since(start)
		c.metrics.ObserveGateway(op, result, took)
		c.log.Trace("gateway call", logx.String("op", op), logx.String("result", result), logx.Duration("took", took))
	}()

	if err := lim.Wait(ctx); err != nil {
		return &booking.TransientGatewayError{Op: op, Err: err}
	}

	u := *base
	u.Path = base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", cfg.UserAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return &booking.TransientGatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if err := statusError(op, resp.StatusCode, raw); err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &booking.TransientGatewayError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func statusError(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &booking.AuthError{Op: op, Status: status}
	case status == http.StatusConflict:
		return fmt.Errorf("gateway %s: %w", op, booking.ErrSlotTaken)
	default:
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &booking.TransientGatewayError{Op: op, Status: status, Err: errors.New(msg)}
	}
}

func resultLabel(err error) string {
	var te *booking.TransientGatewayError
	switch {
	case booking.IsAuth(err):
		return "auth"
	case errors.Is(err, booking.ErrSlotTaken):
		return "taken"
	case errors.As(err, &te) && te.Status >= 500:
		return "5xx"
	case errors.As(err, &te) && te.Status > 0:
		return "4xx"
	default:
		return "error"
	}
}
