package services

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tombola/internal/models"
)

var (
	// ErrAllLotsDrawn is returned once the cursor has passed the last lot.
	ErrAllLotsDrawn = errors.New("all lots have been drawn")
	// ErrNoTicketsLeft is returned when the pool is empty.
	ErrNoTicketsLeft = errors.New("no tickets left")
	// ErrInsufficientTickets is returned when an unrestricted group has more
	// copies than there are tickets left.
	ErrInsufficientTickets = errors.New("not enough tickets to draw every copy")
	// ErrNoEligibleParticipants marks copies of a restricted lot that could
	// not be attributed.
	ErrNoEligibleParticipants = errors.New("no eligible participants left")
)

// Source is the randomness used by the engine. *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

// NewLiveSource returns a generator seeded from the operating system, so
// that live draws cannot be predicted or replayed.
func NewLiveSource() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand.Read never fails on supported platforms.
		panic(fmt.Sprintf("seeding draw source: %v", err))
	}
	return rand.New(rand.NewChaCha8(seed))
}

// Weighting selects how a restricted lot picks among eligible tickets.
type Weighting string

const (
	// WeightPerPerson gives every eligible person the same odds.
	WeightPerPerson Weighting = "person"
	// WeightPerTicket gives every eligible ticket the same odds.
	WeightPerTicket Weighting = "ticket"
)

// Exhaustion selects what a restricted lot does once every remaining person
// has already won it.
type Exhaustion string

const (
	// ExhaustRoundReset clears the lot's winners and starts a new round.
	ExhaustRoundReset Exhaustion = "round-reset"
	// ExhaustStrict leaves the remaining copies unattributed.
	ExhaustStrict Exhaustion = "strict"
)

// ParseWeighting validates a weighting setting.
func ParseWeighting(s string) (Weighting, error) {
	switch w := Weighting(strings.ToLower(strings.TrimSpace(s))); w {
	case WeightPerPerson, WeightPerTicket:
		return w, nil
	case "":
		return WeightPerPerson, nil
	default:
		return "", fmt.Errorf("unknown weighting %q (want %q or %q)", s, WeightPerPerson, WeightPerTicket)
	}
}

// ParseExhaustion validates an exhaustion setting.
func ParseExhaustion(s string) (Exhaustion, error) {
	switch x := Exhaustion(strings.ToLower(strings.TrimSpace(s))); x {
	case ExhaustRoundReset, ExhaustStrict:
		return x, nil
	case "":
		return ExhaustRoundReset, nil
	default:
		return "", fmt.Errorf("unknown exhaustion policy %q (want %q or %q)", s, ExhaustRoundReset, ExhaustStrict)
	}
}

// Policy groups the behavioral choices of the engine.
type Policy struct {
	Identity   models.Identity
	Weighting  Weighting
	Exhaustion Exhaustion
}

// DefaultPolicy keys persons on their name, weights restricted lots per
// person and resets the round when a restricted lot runs out of candidates.
func DefaultPolicy() Policy {
	return Policy{
		Identity:   models.IdentityName,
		Weighting:  WeightPerPerson,
		Exhaustion: ExhaustRoundReset,
	}
}

// GroupDraw is the outcome of one group draw.
type GroupDraw struct {
	BatchID    string          `json:"batchId"`
	Lot        models.Lot      `json:"lot"`
	Restricted bool            `json:"restricted"`
	Size       int             `json:"size"`
	Results    []models.Result `json:"results"`
	// Unattributed counts copies left without a winner.
	Unattributed int `json:"unattributed"`
	// RoundResets counts how many times the lot's winners were cleared.
	RoundResets int `json:"roundResets"`
	// Shortage is ErrNoEligibleParticipants when Unattributed > 0.
	Shortage   error `json:"-"`
	Cursor     int   `json:"cursor"`
	NextCursor int   `json:"nextCursor"`
}

// Engine draws winners group by group.
type Engine struct {
	src    Source
	policy Policy
	now    func() time.Time
}

// NewEngine creates an engine drawing from src.
func NewEngine(src Source, policy Policy) *Engine {
	return &Engine{src: src, policy: policy, now: time.Now}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// GroupSize counts the consecutive lots from cursor that share the name and
// sponsor of lots[cursor].
func GroupSize(lots []models.Lot, cursor int) int {
	if cursor < 0 || cursor >= len(lots) {
		return 0
	}
	n := 1
	for cursor+n < len(lots) && lots[cursor+n].SameGroup(lots[cursor]) {
		n++
	}
	return n
}

// LotNumbers resolves one lot number per copy of the group, falling back to
// the 1-based position in the lot list.
func LotNumbers(lots []models.Lot, cursor, size int) []string {
	numbers := make([]string, size)
	for i := range numbers {
		if n := strings.TrimSpace(lots[cursor+i].Number); n != "" {
			numbers[i] = n
		} else {
			numbers[i] = strconv.Itoa(cursor + i + 1)
		}
	}
	return numbers
}

// DrawNextGroup draws the group of lots starting at cursor. On success the
// winning tickets are removed from pool and restricted winners recorded in
// elig. On error nothing is modified.
func (e *Engine) DrawNextGroup(pool *TicketPool, lots []models.Lot, cursor int, elig *Eligibility) (*GroupDraw, error) {
	if cursor >= len(lots) {
		return nil, ErrAllLotsDrawn
	}
	size := GroupSize(lots, cursor)
	if pool.Len() == 0 {
		return nil, ErrNoTicketsLeft
	}

	lot := lots[cursor]
	draw := &GroupDraw{
		BatchID:    uuid.NewString(),
		Lot:        lot,
		Restricted: elig.IsRestricted(lot.Name),
		Size:       size,
		Cursor:     cursor,
		NextCursor: cursor + size,
	}
	numbers := LotNumbers(lots, cursor, size)

	var err error
	if draw.Restricted {
		e.drawRestricted(draw, pool, numbers, elig)
	} else {
		err = e.drawUnrestricted(draw, pool, numbers)
	}
	if err != nil {
		return nil, err
	}

	now := e.now()
	for i := range draw.Results {
		draw.Results[i].BatchID = draw.BatchID
		draw.Results[i].DrawnAt = now
	}
	return draw, nil
}

func (e *Engine) drawUnrestricted(draw *GroupDraw, pool *TicketPool, numbers []string) error {
	winners, err := pool.SampleUniform(e.src, draw.Size)
	if err != nil {
		return err
	}
	for i, t := range winners {
		pool.Remove(t.ID)
		draw.Results = append(draw.Results, models.NewResult(numbers[i], draw.Lot, t))
	}
	return nil
}

// drawRestricted draws one copy at a time so that each winner is excluded
// before the next copy is drawn.
func (e *Engine) drawRestricted(draw *GroupDraw, pool *TicketPool, numbers []string, elig *Eligibility) {
	name := draw.Lot.Name
	eligible := func(personKey string) bool { return elig.IsEligible(personKey, name) }
	perTicket := e.policy.Weighting == WeightPerTicket

	for i := 0; i < draw.Size; i++ {
		winner, ok := pool.pickPerson(e.src, perTicket, eligible)
		if !ok && e.policy.Exhaustion == ExhaustRoundReset && pool.Len() > 0 {
			elig.ClearLot(name)
			draw.RoundResets++
			winner, ok = pool.pickPerson(e.src, perTicket, eligible)
		}
		if !ok {
			break
		}
		elig.RecordWinner(winner.PersonKey, name)
		pool.Remove(winner.ID)
		draw.Results = append(draw.Results, models.NewResult(numbers[i], draw.Lot, winner))
	}

	if n := draw.Size - len(draw.Results); n > 0 {
		draw.Unattributed = n
		draw.Shortage = fmt.Errorf("%w for %d of %d copies of %q", ErrNoEligibleParticipants, n, draw.Size, name)
	}
}
