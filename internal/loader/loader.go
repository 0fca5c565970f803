// Package loader reads the ticket table and the lot table from CSV exports.
//
// Headers are matched after trimming and case folding, so both the French
// column titles of the sales exports ("Prénom", "Offert par") and plain
// English ones ("firstName", "sponsor") are accepted. A semicolon separator
// is detected from the header line, as spreadsheet software uses it in
// French locales.
package loader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/logger"

	"tombola/internal/models"
)

var (
	firstNameHeaders = []string{"prénom", "prenom", "firstname", "first name"}
	lastNameHeaders  = []string{"nom", "lastname", "last name"}
	emailHeaders     = []string{"adresse e-mail", "adresse email", "email", "e-mail"}
	ticketHeaders    = []string{"numéro du billet original", "numero du billet original", "originalticketid", "ticketid", "ticket"}
	uniqueHeaders    = []string{"nombre unique", "uniquenumber"}

	lotNameHeaders = []string{"lot", "name"}
	sponsorHeaders = []string{"offert par", "sponsor"}
	// Lot numbers appear under many spellings across yearly lot lists.
	lotNumberHeaders = []string{
		"numéro", "numero", "numéro du lot", "numero du lot",
		"n° lot", "n°", "n°lot", "numero lot", "numéro lot",
		"lot number", "number",
	}
)

// ErrMissingColumn is returned when a required column is absent.
var ErrMissingColumn = errors.New("missing column")

// LoadTickets reads the ticket table at path.
func LoadTickets(path string) ([]models.Ticket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening tickets: %w", err)
	}
	defer f.Close()
	return ReadTickets(f)
}

// LoadLots reads the lot table at path.
func LoadLots(path string) ([]models.Lot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening lots: %w", err)
	}
	defer f.Close()
	return ReadLots(f)
}

// ReadTickets parses one ticket per row.
func ReadTickets(r io.Reader) ([]models.Ticket, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	first, err := t.require("first name", firstNameHeaders)
	if err != nil {
		return nil, err
	}
	last, err := t.require("last name", lastNameHeaders)
	if err != nil {
		return nil, err
	}
	ticket, err := t.require("ticket", ticketHeaders)
	if err != nil {
		return nil, err
	}
	email := t.find(emailHeaders)
	unique := t.find(uniqueHeaders)

	tickets := make([]models.Ticket, 0, len(t.rows))
	for i, row := range t.rows {
		id := t.cell(row, ticket)
		if id == "" {
			return nil, fmt.Errorf("tickets line %d: empty ticket number", i+2)
		}
		tk := models.Ticket{
			ID:        id,
			FirstName: t.cell(row, first),
			LastName:  t.cell(row, last),
			Email:     t.cell(row, email),
		}
		if s := t.cell(row, unique); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				logger.Warningf("tickets line %d: ignoring unique number %q", i+2, s)
			}
			tk.UniqueNumber = n
		}
		tickets = append(tickets, tk)
	}
	return tickets, nil
}

// ReadLots parses one lot copy per row, keeping row order.
func ReadLots(r io.Reader) ([]models.Lot, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	name, err := t.require("lot", lotNameHeaders)
	if err != nil {
		return nil, err
	}
	sponsor, err := t.require("sponsor", sponsorHeaders)
	if err != nil {
		return nil, err
	}
	number := t.find(lotNumberHeaders)

	lots := make([]models.Lot, 0, len(t.rows))
	for _, row := range t.rows {
		lot := models.Lot{
			Name:    t.cell(row, name),
			Sponsor: t.cell(row, sponsor),
			Number:  t.cell(row, number),
		}
		if lot.Name == "" && lot.Sponsor == "" && lot.Number == "" {
			continue
		}
		lots = append(lots, lot)
	}
	return lots, nil
}

type table struct {
	columns map[string]int
	rows    [][]string
}

func readTable(r io.Reader) (*table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectComma(data)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("reading CSV: no header row")
	}

	t := &table{columns: make(map[string]int), rows: records[1:]}
	for i, h := range records[0] {
		key := models.Normalize(h)
		if _, dup := t.columns[key]; !dup {
			t.columns[key] = i
		}
	}
	return t, nil
}

func detectComma(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	if bytes.Count(header, []byte(";")) > bytes.Count(header, []byte(",")) {
		return ';'
	}
	return ','
}

// find returns the index of the first matching column, or -1.
func (t *table) find(aliases []string) int {
	for _, a := range aliases {
		if i, ok := t.columns[a]; ok {
			return i
		}
	}
	return -1
}

func (t *table) require(what string, aliases []string) (int, error) {
	if i := t.find(aliases); i >= 0 {
		return i, nil
	}
	return -1, fmt.Errorf("%w: %s (one of %s)", ErrMissingColumn, what, strings.Join(aliases, ", "))
}

func (t *table) cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
