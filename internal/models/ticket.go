package models

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Ticket is one purchased ticket unit, already expanded from a multi-ticket
// purchase. Tickets are immutable once loaded.
type Ticket struct {
	ID           string `json:"ticketId"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email,omitempty"`
	UniqueNumber int    `json:"uniqueNumber,omitempty"`
	// PersonKey is derived from the name (or email) fields by an Identity.
	PersonKey string `json:"-"`
}

// Identity selects how tickets are grouped into persons.
type Identity string

const (
	// IdentityName keys a person on folded first and last name.
	IdentityName Identity = "name"
	// IdentityEmail keys a person on folded email, falling back to the name
	// when the email is blank.
	IdentityEmail Identity = "email"
)

// ParseIdentity validates an identity setting.
func ParseIdentity(s string) (Identity, error) {
	switch id := Identity(Normalize(s)); id {
	case IdentityName, IdentityEmail:
		return id, nil
	case "":
		return IdentityName, nil
	default:
		return "", fmt.Errorf("unknown identity %q (want %q or %q)", s, IdentityName, IdentityEmail)
	}
}

// Key derives the person key of a ticket.
func (id Identity) Key(t Ticket) string {
	if id == IdentityEmail {
		if email := Normalize(t.Email); email != "" {
			return "email:" + email
		}
	}
	return NameKey(t.FirstName, t.LastName)
}

// Assign returns copies of tickets with PersonKey set.
func (id Identity) Assign(tickets []Ticket) []Ticket {
	out := make([]Ticket, len(tickets))
	for i, t := range tickets {
		t.PersonKey = id.Key(t)
		out[i] = t
	}
	return out
}

// NameKey is the name-based person key: "name:first|last", trimmed and
// case-folded.
func NameKey(firstName, lastName string) string {
	return "name:" + Normalize(firstName) + "|" + Normalize(lastName)
}

// Normalize trims surrounding whitespace and applies Unicode case folding.
func Normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
