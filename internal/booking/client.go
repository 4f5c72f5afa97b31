package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Request describes one booking to create at the external booking service.
type Request struct {
	LinkID   uuid.UUID  `json:"link_id"`
	UserID   *uuid.UUID `json:"user_id,omitempty"`
	Items    []Line     `json:"items"`
	Total    int64      `json:"total"`
	Currency string     `json:"currency"`
}

type Line struct {
	TicketTypeID uuid.UUID `json:"ticket_type_id"`
	Quantity     int       `json:"quantity"`
	UnitPrice    int64     `json:"unit_price"`
}

// Result carries the external booking and payment-transaction references the
// purchase record stores.
type Result struct {
	BookingID     uuid.UUID `json:"booking_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

// Creator is the opaque external collaborator the purchase transaction calls.
// A failure aborts the enclosing database transaction.
type Creator interface {
	CreateBooking(ctx context.Context, req Request) (Result, error)
}

// Client talks to the booking service over HTTP JSON.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) CreateBooking(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, errors.Wrap(err, "booking request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return Result{}, errors.Newf("booking service returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, errors.Wrap(err, "decode booking response")
	}
	return result, nil
}
