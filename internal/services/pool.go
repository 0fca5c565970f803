package services

import (
	"fmt"

	"github.com/google/logger"

	"tombola/internal/models"
)

// TicketPool holds the tickets that can still win. Tickets are kept in a
// dense slice for uniform sampling and indexed by person so that restricted
// draws never rescan the whole pool.
type TicketPool struct {
	tickets []models.Ticket
	pos     map[string]int // ticket ID -> index in tickets

	persons   []string
	personPos map[string]int      // person key -> index in persons
	owned     map[string][]string // person key -> ticket IDs still in the pool
}

// NewTicketPool builds a pool from tickets whose PersonKey is already set.
// Duplicate ticket IDs are dropped.
func NewTicketPool(tickets []models.Ticket) *TicketPool {
	p := &TicketPool{
		tickets:   make([]models.Ticket, 0, len(tickets)),
		pos:       make(map[string]int, len(tickets)),
		personPos: make(map[string]int),
		owned:     make(map[string][]string),
	}
	for _, t := range tickets {
		if _, dup := p.pos[t.ID]; dup {
			logger.Warningf("Dropping duplicate ticket %s", t.ID)
			continue
		}
		p.pos[t.ID] = len(p.tickets)
		p.tickets = append(p.tickets, t)
		if _, ok := p.personPos[t.PersonKey]; !ok {
			p.personPos[t.PersonKey] = len(p.persons)
			p.persons = append(p.persons, t.PersonKey)
		}
		p.owned[t.PersonKey] = append(p.owned[t.PersonKey], t.ID)
	}
	return p
}

// Len returns the number of tickets left.
func (p *TicketPool) Len() int {
	return len(p.tickets)
}

// PersonCount returns the number of distinct persons holding a ticket.
func (p *TicketPool) PersonCount() int {
	return len(p.persons)
}

// Contains reports whether the ticket is still in the pool.
func (p *TicketPool) Contains(ticketID string) bool {
	_, ok := p.pos[ticketID]
	return ok
}

// Get returns a ticket of the pool by ID.
func (p *TicketPool) Get(ticketID string) (models.Ticket, bool) {
	i, ok := p.pos[ticketID]
	if !ok {
		return models.Ticket{}, false
	}
	return p.tickets[i], true
}

// TicketsOfPerson returns the tickets a person still holds.
func (p *TicketPool) TicketsOfPerson(personKey string) []models.Ticket {
	ids := p.owned[personKey]
	out := make([]models.Ticket, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.tickets[p.pos[id]])
	}
	return out
}

// SampleUniform returns n distinct tickets chosen uniformly at random. The
// pool is left unchanged.
func (p *TicketPool) SampleUniform(src Source, n int) ([]models.Ticket, error) {
	if n > len(p.tickets) {
		return nil, fmt.Errorf("%w: %d tickets left for %d lots", ErrInsufficientTickets, len(p.tickets), n)
	}
	if n <= 0 {
		return nil, nil
	}
	idx := make([]int, len(p.tickets))
	for i := range idx {
		idx[i] = i
	}
	// Partial Fisher-Yates: the first n slots end up holding the sample.
	for i := 0; i < n; i++ {
		j := i + src.IntN(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	out := make([]models.Ticket, n)
	for i := 0; i < n; i++ {
		out[i] = p.tickets[idx[i]]
	}
	return out, nil
}

// Remove excises tickets from the pool. Unknown IDs are ignored. It returns
// how many tickets were actually removed.
func (p *TicketPool) Remove(ticketIDs ...string) int {
	removed := 0
	for _, id := range ticketIDs {
		i, ok := p.pos[id]
		if !ok {
			continue
		}
		key := p.tickets[i].PersonKey

		last := len(p.tickets) - 1
		if i != last {
			p.tickets[i] = p.tickets[last]
			p.pos[p.tickets[i].ID] = i
		}
		p.tickets = p.tickets[:last]
		delete(p.pos, id)

		p.dropOwned(key, id)
		removed++
	}
	return removed
}

func (p *TicketPool) dropOwned(key, ticketID string) {
	ids := p.owned[key]
	for i, id := range ids {
		if id == ticketID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) > 0 {
		p.owned[key] = ids
		return
	}

	delete(p.owned, key)
	i := p.personPos[key]
	last := len(p.persons) - 1
	if i != last {
		p.persons[i] = p.persons[last]
		p.personPos[p.persons[i]] = i
	}
	p.persons = p.persons[:last]
	delete(p.personPos, key)
}

// pickPerson selects one ticket among the persons accepted by eligible.
// With perTicket set each eligible ticket has the same odds; otherwise each
// eligible person has the same odds and one of their tickets is then chosen
// uniformly. It returns false when no person is eligible.
func (p *TicketPool) pickPerson(src Source, perTicket bool, eligible func(personKey string) bool) (models.Ticket, bool) {
	candidates := make([]string, 0, len(p.persons))
	total := 0
	for _, key := range p.persons {
		if eligible(key) {
			candidates = append(candidates, key)
			total += len(p.owned[key])
		}
	}
	if len(candidates) == 0 {
		return models.Ticket{}, false
	}

	var person string
	var ticketIdx int
	if perTicket {
		n := src.IntN(total)
		for _, key := range candidates {
			if held := len(p.owned[key]); n >= held {
				n -= held
				continue
			}
			person, ticketIdx = key, n
			break
		}
	} else {
		person = candidates[src.IntN(len(candidates))]
		ticketIdx = src.IntN(len(p.owned[person]))
	}

	id := p.owned[person][ticketIdx]
	return p.tickets[p.pos[id]], true
}
