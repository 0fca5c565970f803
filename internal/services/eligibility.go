package services

import (
	"sort"

	"tombola/internal/models"
)

// Eligibility decides who may win a lot. Unrestricted lots accept anyone;
// a restricted lot refuses any person who already won that lot in the
// current session or round.
type Eligibility struct {
	restricted map[string]struct{}
	// winners maps a normalized lot name to the person keys that won it.
	winners map[string]map[string]struct{}
}

// NewEligibility configures the restricted lot names. Names are matched
// after trimming and case folding only.
func NewEligibility(restrictedLots []string) *Eligibility {
	e := &Eligibility{
		restricted: make(map[string]struct{}, len(restrictedLots)),
		winners:    make(map[string]map[string]struct{}),
	}
	for _, name := range restrictedLots {
		if key := models.Normalize(name); key != "" {
			e.restricted[key] = struct{}{}
		}
	}
	return e
}

// IsRestricted reports whether the lot limits each person to one copy.
func (e *Eligibility) IsRestricted(lotName string) bool {
	_, ok := e.restricted[models.Normalize(lotName)]
	return ok
}

// IsEligible reports whether the person may win the lot.
func (e *Eligibility) IsEligible(personKey, lotName string) bool {
	key := models.Normalize(lotName)
	if _, ok := e.restricted[key]; !ok {
		return true
	}
	_, won := e.winners[key][personKey]
	return !won
}

// RecordWinner remembers that the person won a copy of a restricted lot.
// Winners of unrestricted lots are not tracked.
func (e *Eligibility) RecordWinner(personKey, lotName string) {
	key := models.Normalize(lotName)
	if _, ok := e.restricted[key]; !ok {
		return
	}
	set, ok := e.winners[key]
	if !ok {
		set = make(map[string]struct{})
		e.winners[key] = set
	}
	set[personKey] = struct{}{}
}

// ClearLot makes everyone eligible again for one lot.
func (e *Eligibility) ClearLot(lotName string) {
	delete(e.winners, models.Normalize(lotName))
}

// Excluded returns how many persons are currently barred from the lot.
func (e *Eligibility) Excluded(lotName string) int {
	return len(e.winners[models.Normalize(lotName)])
}

// Reset forgets every winner.
func (e *Eligibility) Reset() {
	e.winners = make(map[string]map[string]struct{})
}

// Snapshot returns the winner sets keyed by normalized lot name, with
// sorted person keys.
func (e *Eligibility) Snapshot() map[string][]string {
	out := make(map[string][]string, len(e.winners))
	for lot, set := range e.winners {
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out[lot] = keys
	}
	return out
}

// Restore replaces the winner sets with a snapshot.
func (e *Eligibility) Restore(snapshot map[string][]string) {
	e.Reset()
	for lot, keys := range snapshot {
		set := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			set[k] = struct{}{}
		}
		e.winners[lot] = set
	}
}
