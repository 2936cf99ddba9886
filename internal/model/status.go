package model

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// Status is the remote lifecycle state of a consultation request. The set is open-ended.
type Status string

const (
	StatusPending         Status = "pending"
	StatusAssigned        Status = "assigned"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusCalling         Status = "calling"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// Progress steps shown for a request
const (
	StepCancelled = 0
	StepPending   = 1
	StepPaid      = 2
	StepScheduled = 3
)

// Normalize lower-cases the status; an empty status is pending
func (s Status) Normalize() Status {
	st := Status(strings.ToLower(strings.TrimSpace(string(s))))
	if st == "" {
		return StatusPending
	}
	return st
}

// Known reports whether the status is one the client has a label for
func (s Status) Known() bool {
	switch s.Normalize() {
	case StatusPending, StatusAssigned, StatusAwaitingPayment, StatusPaid,
		StatusCalling, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Step maps the status onto the Pending -> Payment Confirmed -> Appointment Scheduled track.
// Unknown statuses progress like pending.
func (s Status) Step() int {
	switch s.Normalize() {
	case StatusCancelled:
		return StepCancelled
	case StatusPaid, "payment_confirmed":
		return StepPaid
	case StatusCalling, "scheduled", "booked", StatusCompleted:
		return StepScheduled
	default:
		return StepPending
	}
}

const caseNumberModulus = 100000

// CaseNumber derives the five-digit display-only case number for a request id
func CaseNumber(id ID) string {
	if id.Numeric {
		if n, err := strconv.ParseUint(id.Value, 10, 64); err == nil {
			return padCase(n % caseNumberModulus)
		}
	}
	var h uint32
	for _, unit := range utf16.Encode([]rune(id.Value)) {
		h = h*31 + uint32(unit)
	}
	return padCase(uint64(h) % caseNumberModulus)
}

func padCase(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) < 5 {
		s = strings.Repeat("0", 5-len(s)) + s
	}
	return s
}
