// Package export writes the winners list as CSV: the full record kept by the
// organizers and the redacted list published to participants.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tombola/internal/models"
)

// bom makes spreadsheet software read the files as UTF-8.
const bom = "\xef\xbb\xbf"

var (
	resultsHeader = []string{"Numéro du lot", "Prénom", "Nom", "Numéro du billet original", "Lot", "Offert par", "Adresse e-mail"}
	publicHeader  = []string{"Numéro du lot", "Prénom", "Nom", "Numéro du billet original", "Lot", "Offert par"}
)

// WriteResults writes every field of every result.
func WriteResults(w io.Writer, results []models.Result) error {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.LotNumber, r.FirstName, r.LastName, r.TicketID, r.Lot, r.Sponsor, r.Email})
	}
	return writeCSV(w, resultsHeader, rows)
}

// WritePublic writes the redacted results: surname initial only, no email.
func WritePublic(w io.Writer, results []models.Result) error {
	rows := make([][]string, 0, len(results))
	for _, p := range models.PublicResults(results) {
		rows = append(rows, []string{p.LotNumber, p.FirstName, p.LastName, p.TicketID, p.Lot, p.Sponsor})
	}
	return writeCSV(w, publicHeader, rows)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("writing BOM: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing CSV rows: %w", err)
	}
	return nil
}

// Files rewrites the two export files after every draw.
type Files struct {
	ResultsPath string
	PublicPath  string
}

// Rewrite replaces both files with the given results. Each file is written
// to a temporary sibling first and renamed into place.
func (f Files) Rewrite(results []models.Result) error {
	if err := writeFile(f.ResultsPath, func(w io.Writer) error { return WriteResults(w, results) }); err != nil {
		return fmt.Errorf("exporting results: %w", err)
	}
	if err := writeFile(f.PublicPath, func(w io.Writer) error { return WritePublic(w, results) }); err != nil {
		return fmt.Errorf("exporting public results: %w", err)
	}
	return nil
}

// Remove deletes both files. Missing files are not an error.
func (f Files) Remove() error {
	var errs []error
	for _, path := range []string{f.ResultsPath, f.PublicPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeFile(path string, write func(io.Writer) error) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
