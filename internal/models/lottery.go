package models

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Lot is one row of the prize list. Adjacent lots with the same name and
// sponsor are identical physical copies of one prize and are drawn together.
type Lot struct {
	Name    string `json:"name"`
	Sponsor string `json:"sponsor"`
	// Number is the lot number from the source list; empty when the list has
	// no number column or the cell is blank.
	Number string `json:"lotNumber,omitempty"`
}

// SameGroup reports whether two lots are copies of the same prize.
func (l Lot) SameGroup(o Lot) bool {
	return l.Name == o.Name && l.Sponsor == o.Sponsor
}

// Result stores the outcome of a single winning ticket.
type Result struct {
	LotNumber string    `json:"lotNumber"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Lot       string    `json:"lot"`
	Sponsor   string    `json:"sponsor"`
	Email     string    `json:"email,omitempty"`
	TicketID  string    `json:"ticketId"`
	PersonKey string    `json:"-"`
	BatchID   string    `json:"batchId"`
	DrawnAt   time.Time `json:"drawnAt"`
}

// NewResult builds the record for a ticket winning one copy of a lot. Names
// are formatted for display.
func NewResult(lotNumber string, lot Lot, t Ticket) Result {
	return Result{
		LotNumber: lotNumber,
		FirstName: FormatFirstName(t.FirstName),
		LastName:  FormatLastName(t.LastName),
		Lot:       lot.Name,
		Sponsor:   lot.Sponsor,
		Email:     t.Email,
		TicketID:  t.ID,
		PersonKey: t.PersonKey,
	}
}

// PublicResult is the redacted view published to participants: surname
// reduced to its initial, no email.
type PublicResult struct {
	LotNumber string `json:"lotNumber"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	TicketID  string `json:"ticketId"`
	Lot       string `json:"lot"`
	Sponsor   string `json:"sponsor"`
}

// Public returns the redacted view of r.
func (r Result) Public() PublicResult {
	return PublicResult{
		LotNumber: r.LotNumber,
		FirstName: r.FirstName,
		LastName:  Initial(r.LastName),
		TicketID:  r.TicketID,
		Lot:       r.Lot,
		Sponsor:   r.Sponsor,
	}
}

// PublicResults redacts a slice of results, keeping order.
func PublicResults(results []Result) []PublicResult {
	out := make([]PublicResult, 0, len(results))
	for _, r := range results {
		out = append(out, r.Public())
	}
	return out
}

// Initial reduces a surname to its upper-cased first letter and a period.
func Initial(lastName string) string {
	lastName = strings.TrimSpace(lastName)
	if lastName == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(lastName)
	return string(unicode.ToUpper(r)) + "."
}

// FormatFirstName capitalizes each hyphen-separated part: "jean-PIERRE"
// becomes "Jean-Pierre".
func FormatFirstName(name string) string {
	parts := strings.Split(strings.TrimSpace(name), "-")
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, "-")
}

// FormatLastName capitalizes each part separated by spaces or hyphens.
func FormatLastName(name string) string {
	segments := strings.Split(strings.TrimSpace(name), " ")
	for i, s := range segments {
		segments[i] = FormatFirstName(s)
	}
	return strings.Join(segments, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToTitle(r)) + strings.ToLower(s[size:])
}
