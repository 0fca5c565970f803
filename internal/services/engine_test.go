package services

import (
	"errors"
	"testing"

	"tombola/internal/models"
)

func lots(specs ...[2]string) []models.Lot {
	out := make([]models.Lot, 0, len(specs))
	for _, s := range specs {
		out = append(out, models.Lot{Name: s[0], Sponsor: s[1]})
	}
	return out
}

func policy(w Weighting, x Exhaustion) Policy {
	return Policy{Identity: models.IdentityName, Weighting: w, Exhaustion: x}
}

func TestGroupSize(t *testing.T) {
	seq := lots([2]string{"A", "X"}, [2]string{"A", "X"}, [2]string{"B", "Y"}, [2]string{"A", "Z"})
	cases := []struct{ cursor, want int }{{0, 2}, {1, 1}, {2, 1}, {3, 1}, {4, 0}, {-1, 0}}
	for _, c := range cases {
		if got := GroupSize(seq, c.cursor); got != c.want {
			t.Errorf("GroupSize(cursor=%d) = %d, want %d", c.cursor, got, c.want)
		}
	}
}

func TestLotNumbers(t *testing.T) {
	seq := []models.Lot{
		{Name: "A", Sponsor: "X", Number: "12"},
		{Name: "A", Sponsor: "X"},
		{Name: "A", Sponsor: "X", Number: " 14b "},
	}
	got := LotNumbers(seq, 0, 3)
	want := []string{"12", "2", "14b"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("LotNumbers[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDrawNextGroup_Unrestricted(t *testing.T) {
	seq := lots([2]string{"A", "X"}, [2]string{"A", "X"}, [2]string{"B", "Y"})
	engine := NewEngine(newSource(1), DefaultPolicy())
	elig := NewEligibility(nil)

	t.Run("draws a whole group and advances the cursor", func(t *testing.T) {
		pool := NewTicketPool(holdings("Alice", 2, "Bob", 2))
		draw, err := engine.DrawNextGroup(pool, seq, 0, elig)
		if err != nil {
			t.Fatalf("DrawNextGroup failed: %v", err)
		}
		if draw.Size != 2 || len(draw.Results) != 2 || draw.NextCursor != 2 {
			t.Fatalf("Expected 2 winners and cursor 2, got %d winners, cursor %d", len(draw.Results), draw.NextCursor)
		}
		if draw.Results[0].TicketID == draw.Results[1].TicketID {
			t.Error("The same ticket won twice")
		}
		if pool.Len() != 2 {
			t.Errorf("Expected 2 tickets left, got %d", pool.Len())
		}
		for i, r := range draw.Results {
			if pool.Contains(r.TicketID) {
				t.Errorf("Winning ticket %s is still in the pool", r.TicketID)
			}
			if r.BatchID != draw.BatchID || r.Lot != "A" || r.Sponsor != "X" {
				t.Errorf("Unexpected result %+v", r)
			}
			if want := []string{"1", "2"}[i]; r.LotNumber != want {
				t.Errorf("Expected lot number %s, got %s", want, r.LotNumber)
			}
		}
	})

	t.Run("insufficient tickets leaves the pool untouched", func(t *testing.T) {
		big := lots([2]string{"C", "X"}, [2]string{"C", "X"}, [2]string{"C", "X"}, [2]string{"C", "X"}, [2]string{"C", "X"})
		pool := NewTicketPool(holdings("Alice", 1, "Bob", 1, "Chloe", 1))
		draw, err := engine.DrawNextGroup(pool, big, 0, elig)
		if !errors.Is(err, ErrInsufficientTickets) {
			t.Fatalf("Expected ErrInsufficientTickets, got %v", err)
		}
		if draw != nil {
			t.Error("Expected no draw on shortage")
		}
		if pool.Len() != 3 {
			t.Errorf("Expected pool to keep 3 tickets, got %d", pool.Len())
		}
	})

	t.Run("all lots drawn", func(t *testing.T) {
		pool := NewTicketPool(holdings("Alice", 1))
		if _, err := engine.DrawNextGroup(pool, seq, 3, elig); !errors.Is(err, ErrAllLotsDrawn) {
			t.Errorf("Expected ErrAllLotsDrawn, got %v", err)
		}
	})

	t.Run("empty pool", func(t *testing.T) {
		pool := NewTicketPool(nil)
		if _, err := engine.DrawNextGroup(pool, seq, 0, elig); !errors.Is(err, ErrNoTicketsLeft) {
			t.Errorf("Expected ErrNoTicketsLeft, got %v", err)
		}
	})
}

func TestDrawNextGroup_Restricted(t *testing.T) {
	savon := lots([2]string{"Savon", "X"}, [2]string{"Savon", "X"}, [2]string{"Savon", "X"})

	for _, w := range []Weighting{WeightPerPerson, WeightPerTicket} {
		t.Run(string(w)+" never repeats a person within a round", func(t *testing.T) {
			engine := NewEngine(newSource(3), policy(w, ExhaustRoundReset))
			elig := NewEligibility([]string{"savon"})
			pool := NewTicketPool(holdings("Alice", 5, "Bob", 1, "Chloe", 3, "David", 1))

			draw, err := engine.DrawNextGroup(pool, savon, 0, elig)
			if err != nil {
				t.Fatalf("DrawNextGroup failed: %v", err)
			}
			if !draw.Restricted || len(draw.Results) != 3 || draw.RoundResets != 0 {
				t.Fatalf("Unexpected draw: %+v", draw)
			}
			persons := map[string]bool{}
			for _, r := range draw.Results {
				if persons[r.PersonKey] {
					t.Errorf("Person %s won the restricted lot twice", r.PersonKey)
				}
				persons[r.PersonKey] = true
			}
			if elig.Excluded("Savon") != 3 {
				t.Errorf("Expected 3 excluded persons, got %d", elig.Excluded("Savon"))
			}
		})
	}

	t.Run("round reset fills every copy", func(t *testing.T) {
		engine := NewEngine(newSource(5), DefaultPolicy())
		elig := NewEligibility([]string{"Savon"})
		pool := NewTicketPool(holdings("Alice", 3, "Bob", 3))

		draw, err := engine.DrawNextGroup(pool, savon, 0, elig)
		if err != nil {
			t.Fatalf("DrawNextGroup failed: %v", err)
		}
		if len(draw.Results) != 3 || draw.Unattributed != 0 || draw.Shortage != nil {
			t.Fatalf("Expected 3 winners, got %d (unattributed %d)", len(draw.Results), draw.Unattributed)
		}
		if draw.RoundResets != 1 {
			t.Errorf("Expected 1 round reset, got %d", draw.RoundResets)
		}
		tickets := map[string]bool{}
		for _, r := range draw.Results {
			if tickets[r.TicketID] {
				t.Errorf("Ticket %s won twice", r.TicketID)
			}
			tickets[r.TicketID] = true
		}
		if draw.Results[0].PersonKey == draw.Results[1].PersonKey {
			t.Error("The first round must pick two different persons")
		}
		if pool.Len() != 3 {
			t.Errorf("Expected 3 tickets left, got %d", pool.Len())
		}
	})

	t.Run("round reset stops when the pool runs dry", func(t *testing.T) {
		engine := NewEngine(newSource(5), DefaultPolicy())
		elig := NewEligibility([]string{"Savon"})
		pool := NewTicketPool(holdings("Alice", 1, "Bob", 1))

		draw, err := engine.DrawNextGroup(pool, savon, 0, elig)
		if err != nil {
			t.Fatalf("DrawNextGroup failed: %v", err)
		}
		if len(draw.Results) != 2 || draw.Unattributed != 1 {
			t.Fatalf("Expected 2 winners and 1 unattributed copy, got %d and %d", len(draw.Results), draw.Unattributed)
		}
		if !errors.Is(draw.Shortage, ErrNoEligibleParticipants) {
			t.Errorf("Expected ErrNoEligibleParticipants, got %v", draw.Shortage)
		}
		if draw.NextCursor != 3 {
			t.Errorf("Expected the cursor to pass the group, got %d", draw.NextCursor)
		}
	})

	t.Run("strict policy leaves copies unattributed", func(t *testing.T) {
		engine := NewEngine(newSource(5), policy(WeightPerPerson, ExhaustStrict))
		elig := NewEligibility([]string{"Savon"})
		pool := NewTicketPool(holdings("Alice", 3, "Bob", 3))

		draw, err := engine.DrawNextGroup(pool, savon, 0, elig)
		if err != nil {
			t.Fatalf("DrawNextGroup failed: %v", err)
		}
		if len(draw.Results) != 2 || draw.Unattributed != 1 || draw.RoundResets != 0 {
			t.Fatalf("Expected 2 winners and 1 unattributed copy, got %+v", draw)
		}
		if !errors.Is(draw.Shortage, ErrNoEligibleParticipants) {
			t.Errorf("Expected ErrNoEligibleParticipants, got %v", draw.Shortage)
		}
		if draw.NextCursor != 3 {
			t.Errorf("Expected the cursor to pass the group, got %d", draw.NextCursor)
		}
		if pool.Len() != 4 {
			t.Errorf("Expected 4 tickets left, got %d", pool.Len())
		}
	})

	t.Run("restriction carries across groups of the same lot", func(t *testing.T) {
		seq := lots([2]string{"Savon", "Shop A"}, [2]string{"Gourde", "Club"}, [2]string{"savon ", "Shop B"})
		engine := NewEngine(newSource(9), DefaultPolicy())
		elig := NewEligibility([]string{"Savon"})
		pool := NewTicketPool(holdings("Alice", 4, "Bob", 4))

		first, err := engine.DrawNextGroup(pool, seq, 0, elig)
		if err != nil {
			t.Fatalf("First draw failed: %v", err)
		}
		if _, err := engine.DrawNextGroup(pool, seq, 1, elig); err != nil {
			t.Fatalf("Second draw failed: %v", err)
		}
		third, err := engine.DrawNextGroup(pool, seq, 2, elig)
		if err != nil {
			t.Fatalf("Third draw failed: %v", err)
		}
		if first.Results[0].PersonKey == third.Results[0].PersonKey {
			t.Error("The same person won the restricted lot twice without a round reset")
		}
	})
}

func TestDrawNextGroup_Deterministic(t *testing.T) {
	seq := lots([2]string{"A", "X"}, [2]string{"A", "X"}, [2]string{"Savon", "Y"}, [2]string{"Savon", "Y"})
	run := func() []string {
		engine := NewEngine(newSource(42), DefaultPolicy())
		elig := NewEligibility([]string{"Savon"})
		pool := NewTicketPool(holdings("Alice", 3, "Bob", 2, "Chloe", 4, "David", 1))

		var ids []string
		for cursor := 0; cursor < len(seq); {
			draw, err := engine.DrawNextGroup(pool, seq, cursor, elig)
			if err != nil {
				t.Fatalf("DrawNextGroup failed: %v", err)
			}
			for _, r := range draw.Results {
				ids = append(ids, r.TicketID)
			}
			cursor = draw.NextCursor
		}
		return ids
	}

	a, b := run(), run()
	if len(a) != 4 || len(b) != 4 {
		t.Fatalf("Expected 4 winners per run, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("Run mismatch at %d: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestParsePolicies(t *testing.T) {
	if w, err := ParseWeighting(" Ticket "); err != nil || w != WeightPerTicket {
		t.Errorf("ParseWeighting: got %q, %v", w, err)
	}
	if _, err := ParseWeighting("coin"); err == nil {
		t.Error("Expected an error for unknown weighting")
	}
	if x, err := ParseExhaustion(""); err != nil || x != ExhaustRoundReset {
		t.Errorf("ParseExhaustion: got %q, %v", x, err)
	}
	if _, err := ParseExhaustion("panic"); err == nil {
		t.Error("Expected an error for unknown exhaustion policy")
	}
}
