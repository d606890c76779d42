package types

import (
	"bytes"
	"fmt"
	"time"
)

// Date is a calendar date that travels as "2006-01-02" in JSON.
// Longer timestamps are accepted and truncated to their date part.
type Date struct {
	time.Time
}

// NewDate strips the clock part of t.
func NewDate(t time.Time) Date {
	return Date{Time: DateOnly(t)}
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + FormatDate(d.Time) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		d.Time = time.Time{}
		return nil
	}
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("date must be a string, got %s", b)
	}
	t, err := ParseDate(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return FormatDate(d.Time)
}
