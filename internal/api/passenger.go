package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/example/rider-client/internal/models"
)

// GetWallet returns the rider's wallet or nil on any failure.
func (c *Client) GetWallet(ctx context.Context) *models.Wallet {
	var out struct {
		Balance  *number `json:"balance"`
		Currency string  `json:"currency"`
	}
	if !c.getJSON(ctx, call{op: "wallet", method: http.MethodGet, path: "/passenger/wallet"}, &out) {
		return nil
	}
	bal, ok := out.Balance.value()
	if !ok {
		return nil
	}
	w := &models.Wallet{Balance: bal, Currency: out.Currency}
	if w.Currency == "" {
		w.Currency = "XOF"
	}
	return w
}

// ListRides returns the rider's past and current rides. The backend answers
// either with a bare array or with {"data": [...]}.
func (c *Client) ListRides(ctx context.Context) []models.Ride {
	var raw json.RawMessage
	if !c.getJSON(ctx, call{op: "list_rides", method: http.MethodGet, path: "/passenger/rides"}, &raw) {
		return nil
	}
	var items []rideResponse
	if err := decodeList(raw, &items); err != nil {
		return nil
	}
	rides := make([]models.Ride, 0, len(items))
	for _, it := range items {
		rides = append(rides, it.toRide())
	}
	return rides
}

func (c *Client) ListAddresses(ctx context.Context) []models.SavedAddress {
	var raw json.RawMessage
	if !c.getJSON(ctx, call{op: "list_addresses", method: http.MethodGet, path: "/passenger/addresses"}, &raw) {
		return nil
	}
	var items []struct {
		ID      ident   `json:"id"`
		Label   string  `json:"label"`
		Address string  `json:"full_address"`
		Lat     *number `json:"lat"`
		Lng     *number `json:"lng"`
	}
	if err := decodeList(raw, &items); err != nil {
		return nil
	}
	out := make([]models.SavedAddress, 0, len(items))
	for _, it := range items {
		a := models.SavedAddress{ID: string(it.ID), Label: it.Label, Address: it.Address}
		a.Lat, _ = it.Lat.value()
		a.Lon, _ = it.Lng.value()
		out = append(out, a)
	}
	return out
}

func decodeList(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err == nil {
		return nil
	}
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return err
	}
	return json.Unmarshal(wrapped.Data, out)
}

// RateDriver sends the rider's rating of a finished ride. Unlike reads, a
// failure is returned to the caller.
func (c *Client) RateDriver(ctx context.Context, r models.Rating) error {
	if r.Stars < 1 || r.Stars > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", r.Stars)
	}
	r.Comment = strings.TrimSpace(r.Comment)
	status, raw, err := c.do(ctx, call{op: "rate_driver", method: http.MethodPost, path: "/passenger/ratings", body: r})
	if err != nil {
		return fmt.Errorf("rate driver: %w", err)
	}
	if status < 200 || status > 299 {
		var out struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &out)
		if out.Message != "" {
			return fmt.Errorf("rate driver: %w %d: %s", ErrUnexpectedStatus, status, out.Message)
		}
		return fmt.Errorf("rate driver: %w %d", ErrUnexpectedStatus, status)
	}
	return nil
}
