package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SessionUser is the identity persisted alongside the session token
type SessionUser struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
}

// ID is a consultation request identifier as returned by the gateway.
// The gateway may send identifiers as JSON numbers or strings; Numeric records which.
type ID struct {
	Value   string
	Numeric bool
}

// StringID builds a string identifier
func StringID(s string) ID {
	return ID{Value: s}
}

// String returns the identifier in its textual form, as used for ownership lookups
func (id ID) String() string {
	return id.Value
}

// IsZero reports whether the identifier is empty
func (id ID) IsZero() bool {
	return id.Value == ""
}

// UnmarshalJSON accepts a JSON string or number
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID{Value: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID{Value: n.String(), Numeric: true}
	return nil
}

// MarshalJSON writes the identifier back in the form it was received
func (id ID) MarshalJSON() ([]byte, error) {
	if id.Numeric {
		return []byte(id.Value), nil
	}
	return json.Marshal(id.Value)
}

// ConsultationRequest is a remote request entity. The client never writes status.
type ConsultationRequest struct {
	ID          ID     `json:"id"`
	Category    string `json:"category,omitempty"`
	Topic       string `json:"topic,omitempty"`
	Details     string `json:"details,omitempty"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Created parses CreatedAt. Timestamps without a zone are read as UTC.
func (r ConsultationRequest) Created() (time.Time, bool) {
	if r.CreatedAt == "" {
		return time.Time{}, false
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, r.CreatedAt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Title returns the label shown for the request, falling back to its position in the list
func (r ConsultationRequest) Title(index int) string {
	if t := strings.TrimSpace(r.Category); t != "" {
		return t
	}
	if t := strings.TrimSpace(r.Topic); t != "" {
		return t
	}
	return fmt.Sprintf("Request %d", index+1)
}

// Body returns the free-text details of the request
func (r ConsultationRequest) Body() string {
	if r.Details != "" {
		return r.Details
	}
	return r.Description
}

// Article is a legal article from the public article list
type Article struct {
	ID      ID       `json:"id"`
	Title   string   `json:"title"`
	Year    *int     `json:"year,omitempty"`
	Court   *string  `json:"court,omitempty"`
	Summary *string  `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}
