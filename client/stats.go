package client

import (
	"context"

	"github.com/example/fareshare/internal/stats"
)

type tripHistoryResponse struct {
	UserID string            `json:"user_id"`
	Trips  []stats.TripEntry `json:"trips"`
}

// TripHistory returns the caller's role-tagged trip entries.
func (c *Client) TripHistory(ctx context.Context) ([]stats.TripEntry, error) {
	var resp tripHistoryResponse
	if err := c.get(ctx, "/api/trips", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Trips, nil
}

// Dashboard holds both sides of the trips dashboard.
type Dashboard struct {
	Passenger stats.PassengerStats `json:"passenger"`
	Driver    stats.DriverStats    `json:"driver"`
}

// TripSummary asks the server for the aggregated dashboard figures.
func (c *Client) TripSummary(ctx context.Context) (*Dashboard, error) {
	var d struct {
		Passenger stats.PassengerStats `json:"passenger"`
		Driver    stats.DriverStats    `json:"driver"`
	}
	if err := c.get(ctx, "/api/trips/summary", nil, &d); err != nil {
		return nil, err
	}
	return &Dashboard{Passenger: d.Passenger, Driver: d.Driver}, nil
}

// LocalDashboard computes the same figures from already-fetched history with
// the shared aggregation engine, so an offline dashboard shows identical
// numbers to the server's.
func LocalDashboard(entries []stats.TripEntry) Dashboard {
	return Dashboard{
		Passenger: stats.Passenger(entries),
		Driver:    stats.Driver(entries),
	}
}
