package api

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// number accepts a JSON number or a numeric string; geocoders disagree on which
// they send.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = number(f)
	return nil
}

func (n *number) value() (float64, bool) {
	if n == nil {
		return 0, false
	}
	return float64(*n), true
}

// ident accepts numeric and string identifiers alike.
type ident string

func (id *ident) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "null" {
		s = ""
	}
	*id = ident(s)
	return nil
}

type latLng struct {
	Lat     *number `json:"lat"`
	Lng     *number `json:"lng"`
	Address string  `json:"address,omitempty"`
	Label   string  `json:"label,omitempty"`
}

var stampLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// stamp is a timestamp that decodes to the zero time when unparseable.
type stamp time.Time

func (t *stamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	for _, layout := range stampLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			*t = stamp(v)
			return nil
		}
	}
	return nil
}
