package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ResourceTypeShow is the operation resource type for shows.
const ResourceTypeShow = "show"

// ShowStatus is the booking state of a show.
type ShowStatus string

const (
	ShowStatusOffer     ShowStatus = "offer"
	ShowStatusPending   ShowStatus = "pending"
	ShowStatusConfirmed ShowStatus = "confirmed"
	ShowStatusCancelled ShowStatus = "cancelled"
)

// Show is a single tour date. Date is an ISO "YYYY-MM-DD" string and is the
// sort key of the entity store.
type Show struct {
	ID       string     `json:"id"`
	Title    string     `json:"title,omitempty"`
	City     string     `json:"city"`
	Venue    string     `json:"venue,omitempty"`
	Date     string     `json:"date"`
	Fee      float64    `json:"fee"`
	Currency string     `json:"currency,omitempty"`
	Status   ShowStatus `json:"status,omitempty"`
	Notes    string     `json:"notes,omitempty"`
	Meta
}

// ShowPatch lists the fields a caller may change through an update. Fields
// absent from this struct (id, version, modifiedAt, modifiedBy, or anything
// unknown) cannot be patched and are dropped when decoding.
type ShowPatch struct {
	Title    *string     `json:"title,omitempty"`
	City     *string     `json:"city,omitempty"`
	Venue    *string     `json:"venue,omitempty"`
	Date     *string     `json:"date,omitempty"`
	Fee      *float64    `json:"fee,omitempty"`
	Currency *string     `json:"currency,omitempty"`
	Status   *ShowStatus `json:"status,omitempty"`
	Notes    *string     `json:"notes,omitempty"`
}

// DecodePatch parses a JSON object into a ShowPatch. Unknown and forbidden
// keys are ignored.
func DecodePatch(data []byte) (ShowPatch, error) {
	var p ShowPatch
	if err := json.Unmarshal(data, &p); err != nil {
		return ShowPatch{}, fmt.Errorf("decode patch: %w", err)
	}
	return p, nil
}

// IsEmpty reports whether the patch carries no permitted field.
func (p ShowPatch) IsEmpty() bool {
	return p == ShowPatch{}
}

// Apply copies the patch onto s and reports whether any field changed.
func (p ShowPatch) Apply(s *Show) bool {
	changed := false
	setString := func(dst *string, v *string) {
		if v != nil && *dst != *v {
			*dst = *v
			changed = true
		}
	}

	setString(&s.Title, p.Title)
	setString(&s.City, p.City)
	setString(&s.Venue, p.Venue)
	setString(&s.Date, p.Date)
	setString(&s.Currency, p.Currency)
	setString(&s.Notes, p.Notes)

	if p.Fee != nil && s.Fee != *p.Fee {
		s.Fee = *p.Fee
		changed = true
	}
	if p.Status != nil && s.Status != *p.Status {
		s.Status = *p.Status
		changed = true
	}

	return changed
}

var ErrIncorrectPair = errors.New("patch item must be field=value")

// PatchFromPairs builds a patch from "field=value" strings. Unknown fields
// are skipped, malformed pairs and non-numeric fees are errors.
func PatchFromPairs(pairs []string) (ShowPatch, error) {
	var p ShowPatch
	for _, item := range pairs {
		name, value, ok := strings.Cut(item, "=")
		if !ok || name == "" {
			return ShowPatch{}, fmt.Errorf("%w: %q", ErrIncorrectPair, item)
		}

		v := value
		switch strings.ToLower(name) {
		case "title":
			p.Title = &v
		case "city":
			p.City = &v
		case "venue":
			p.Venue = &v
		case "date":
			p.Date = &v
		case "currency":
			p.Currency = &v
		case "notes":
			p.Notes = &v
		case "status":
			st := ShowStatus(v)
			p.Status = &st
		case "fee":
			fee, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return ShowPatch{}, fmt.Errorf("fee: %w", err)
			}
			p.Fee = &fee
		}
	}
	return p, nil
}
