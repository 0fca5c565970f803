// Package ingest expands a ticket-sales export into one row per ticket.
//
// Each sale line carries a ticket count in its price label ("5 tickets").
// Expansion emits one ticket per unit, suffixing the sale's ticket number
// with the unit index, and gives every ticket a public number drawn from a
// seeded shuffle so the numbering is reproducible.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"tombola/internal/models"
)

// Sale is one line of the sales export.
type Sale struct {
	FirstName string
	LastName  string
	Ticket    string
	Tariff    string
	Email     string
}

// Summary reports what an expansion produced.
type Summary struct {
	Sales        int
	Tickets      int
	Participants int
}

var salesColumns = []string{"Prénom participant", "Nom participant", "Numéro de billet", "Tarif", "Email payeur"}

// ReadSales parses the sales export. Every column of salesColumns is
// required.
func ReadSales(r io.Reader) ([]Sale, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading sales: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("reading sales: no header row")
	}

	idx := make(map[string]int)
	for i, h := range records[0] {
		idx[models.Normalize(strings.TrimPrefix(h, "\xef\xbb\xbf"))] = i
	}
	cols := make([]int, len(salesColumns))
	for i, name := range salesColumns {
		c, ok := idx[models.Normalize(name)]
		if !ok {
			return nil, fmt.Errorf("reading sales: missing column %q", name)
		}
		cols[i] = c
	}

	get := func(row []string, c int) string {
		if c < len(row) {
			return strings.TrimSpace(row[c])
		}
		return ""
	}
	sales := make([]Sale, 0, len(records)-1)
	for _, row := range records[1:] {
		sales = append(sales, Sale{
			FirstName: get(row, cols[0]),
			LastName:  get(row, cols[1]),
			Ticket:    get(row, cols[2]),
			Tariff:    get(row, cols[3]),
			Email:     get(row, cols[4]),
		})
	}
	return sales, nil
}

// TicketCount extracts the leading integer of a price label.
func TicketCount(tariff string) (int, error) {
	fields := strings.Fields(tariff)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty tariff")
	}
	digits := strings.TrimRightFunc(fields[0], func(r rune) bool { return !unicode.IsDigit(r) })
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("no ticket count in tariff %q", tariff)
	}
	return n, nil
}

// Expand produces one ticket per purchased unit.
func Expand(sales []Sale, seed uint64) ([]models.Ticket, Summary, error) {
	counts := make([]int, len(sales))
	total := 0
	for i, s := range sales {
		n, err := TicketCount(s.Tariff)
		if err != nil {
			return nil, Summary{}, fmt.Errorf("sale %s (line %d): %w", s.Ticket, i+2, err)
		}
		counts[i] = n
		total += n
	}

	numbers := rand.New(rand.NewPCG(seed, seed)).Perm(total)

	tickets := make([]models.Ticket, 0, total)
	participants := make(map[string]struct{})
	for i, s := range sales {
		participants[strings.ToUpper(s.FirstName)+"\x00"+strings.ToUpper(s.LastName)] = struct{}{}
		for unit := 1; unit <= counts[i]; unit++ {
			tickets = append(tickets, models.Ticket{
				ID:           fmt.Sprintf("%s-%d", s.Ticket, unit),
				FirstName:    s.FirstName,
				LastName:     s.LastName,
				Email:        s.Email,
				UniqueNumber: numbers[len(tickets)] + 1,
			})
		}
	}

	return tickets, Summary{Sales: len(sales), Tickets: total, Participants: len(participants)}, nil
}

var ticketColumns = []string{"Numéro d'index", "Prénom", "Nom", "Adresse e-mail", "Numéro du billet original", "Nombre unique"}

// WriteTickets writes the expanded ticket table in the layout the draw
// reads back.
func WriteTickets(w io.Writer, tickets []models.Ticket) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ticketColumns); err != nil {
		return fmt.Errorf("writing tickets header: %w", err)
	}
	for i, t := range tickets {
		row := []string{strconv.Itoa(i + 1), t.FirstName, t.LastName, t.Email, t.ID, strconv.Itoa(t.UniqueNumber)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing ticket %s: %w", t.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExpandFile reads the sales export at in and writes the ticket table to out.
func ExpandFile(in, out string, seed uint64) (Summary, error) {
	f, err := os.Open(in)
	if err != nil {
		return Summary{}, fmt.Errorf("opening sales: %w", err)
	}
	defer f.Close()

	sales, err := ReadSales(f)
	if err != nil {
		return Summary{}, err
	}
	tickets, summary, err := Expand(sales, seed)
	if err != nil {
		return Summary{}, err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return Summary{}, fmt.Errorf("creating output directory: %w", err)
	}
	dst, err := os.Create(out)
	if err != nil {
		return Summary{}, fmt.Errorf("creating tickets file: %w", err)
	}
	if err := WriteTickets(dst, tickets); err != nil {
		dst.Close()
		return Summary{}, err
	}
	if err := dst.Close(); err != nil {
		return Summary{}, fmt.Errorf("closing tickets file: %w", err)
	}
	return summary, nil
}
