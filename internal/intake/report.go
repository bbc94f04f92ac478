package intake

import (
	"fmt"
	"strings"

	"github.com/raine/vehicle-listing-bot/internal/photo"
)

// RejectReason says why a file was not accepted.
type RejectReason string

const (
	ReasonEmpty     RejectReason = "empty"
	ReasonTooLarge  RejectReason = "too_large"
	ReasonNotImage  RejectReason = "not_image"
	ReasonDuplicate RejectReason = "duplicate"
	ReasonCapacity  RejectReason = "capacity"
)

var reasonMessages = map[RejectReason]string{
	ReasonEmpty:     "file is empty",
	ReasonTooLarge:  "file is too large",
	ReasonNotImage:  "not an image",
	ReasonDuplicate: "already added",
	ReasonCapacity:  "photo limit reached",
}

// Rejection is a file that failed validation.
type Rejection struct {
	Name   string
	Reason RejectReason
}

// Message returns a user facing explanation.
func (r Rejection) Message() string {
	name := r.Name
	if name == "" {
		name = "photo"
	}
	return fmt.Sprintf("%s: %s", name, reasonMessages[r.Reason])
}

// BatchReport is the result of one intake batch.
type BatchReport struct {
	Accepted []*photo.Record
	Rejected []Rejection
}

// RejectedBy counts rejections per reason.
func (b BatchReport) RejectedBy() map[RejectReason]int {
	counts := make(map[RejectReason]int)
	for _, r := range b.Rejected {
		counts[r.Reason]++
	}
	return counts
}

// Summary returns a one line description of the batch.
func (b BatchReport) Summary() string {
	var parts []string
	if n := len(b.Accepted); n > 0 {
		parts = append(parts, fmt.Sprintf("%d %s added", n, pluralize("photo", "photos", n)))
	}
	if n := len(b.Rejected); n > 0 {
		parts = append(parts, fmt.Sprintf("%d rejected", n))
	}
	if len(parts) == 0 {
		return "no photos added"
	}
	return strings.Join(parts, ", ")
}

// Messages returns one message per rejected file.
func (b BatchReport) Messages() []string {
	out := make([]string, len(b.Rejected))
	for i, r := range b.Rejected {
		out[i] = r.Message()
	}
	return out
}

func pluralize(singular, plural string, count int) string {
	if count == 1 {
		return singular
	}
	return plural
}
