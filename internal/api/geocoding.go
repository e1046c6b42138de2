package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/example/rider-client/internal/models"
)

const (
	searchLanguage = "fr"
	searchLimit    = 8
)

// ReverseGeocode returns the display address of a coordinate. ok is false on
// any failure; callers fall back to the raw coordinates.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (address string, ok bool) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("language", searchLanguage)

	var out struct {
		Address *string `json:"address"`
	}
	if !c.getJSON(ctx, call{op: "reverse_geocode", method: http.MethodGet, path: "/geocoding/reverse", query: q, public: true}, &out) {
		return "", false
	}
	if out.Address == nil || strings.TrimSpace(*out.Address) == "" {
		return "", false
	}
	return *out.Address, true
}

// SearchAddress returns up to eight matches; failures yield an empty slice.
// Results without usable coordinates are dropped.
func (c *Client) SearchAddress(ctx context.Context, query string) []models.Place {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("language", searchLanguage)
	q.Set("limit", strconv.Itoa(searchLimit))

	var out struct {
		Results []struct {
			PlaceID     ident   `json:"place_id"`
			DisplayName string  `json:"display_name"`
			Lat         *number `json:"lat"`
			Lon         *number `json:"lon"`
		} `json:"results"`
	}
	if !c.getJSON(ctx, call{op: "search", method: http.MethodGet, path: "/geocoding/search", query: q, public: true}, &out) {
		return nil
	}
	places := make([]models.Place, 0, len(out.Results))
	for _, r := range out.Results {
		lat, okLat := r.Lat.value()
		lon, okLon := r.Lon.value()
		if !okLat || !okLon {
			continue
		}
		places = append(places, models.Place{Address: r.DisplayName, Lat: lat, Lon: lon})
	}
	return places
}
