package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/logger"
	"github.com/spf13/cobra"

	"tombola/internal/services"
	"tombola/internal/storage"
)

const (
	saveAttempts   = 5
	saveRetryDelay = 2 * time.Second
)

var drawCmd = &cobra.Command{
	Use:   "draw",
	Short: "Draw the next group of lots",
	RunE: func(cmd *cobra.Command, args []string) error {
		groups, _ := cmd.Flags().GetInt("groups")
		all, _ := cmd.Flags().GetBool("all")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		for i := 0; all || i < groups; i++ {
			draw, err := a.session.DrawNext(cmd.Context())
			if draw != nil {
				printDraw(out, draw)
			}
			var perr *services.PersistenceError
			if errors.As(err, &perr) {
				if err := saveOrDump(cmd, a); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, services.ErrAllLotsDrawn) && i > 0 {
				break
			}
			if err != nil {
				return err
			}
		}
		printState(out, a.session.State())
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress of the draw",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		printState(cmd.OutOrStdout(), a.session.State())
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every result and start the draw over",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return errors.New("reset deletes every saved result, pass --yes to confirm")
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.session.Reset(cmd.Context()); err != nil {
			return err
		}
		printState(cmd.OutOrStdout(), a.session.State())
		return nil
	},
}

// saveOrDump retries saving an announced draw. If the ledger stays
// unavailable the draw is written to a recovery file for the recover command,
// since drawing it again would pick other winners.
func saveOrDump(cmd *cobra.Command, a *app) error {
	var err error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		logger.Warningf("Draw not saved, retrying (%d/%d)", attempt, saveAttempts)
		time.Sleep(saveRetryDelay)
		if err = a.session.Save(cmd.Context()); err == nil {
			return nil
		}
	}

	rec, ok := a.session.PendingRecovery()
	if !ok {
		// Only the export files are behind; the ledger has the draw.
		return fmt.Errorf("draw saved but export files not written, run 'tombola save': %w", err)
	}
	path := fmt.Sprintf("tombola-recovery-lot%d-%s.json", rec.From+1, time.Now().Format("20060102-150405"))
	data, merr := json.MarshalIndent(rec, "", "  ")
	if merr != nil {
		return errors.Join(err, merr)
	}
	if werr := os.WriteFile(path, data, 0600); werr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", data)
		return fmt.Errorf("draw NOT saved and recovery file not written (%v), keep the JSON above: %w", werr, err)
	}
	return fmt.Errorf("draw NOT saved; winners above stand. Once storage is back run 'tombola recover %s' before drawing again: %w", path, err)
}

var recoverCmd = &cobra.Command{
	Use:   "recover <recovery.json>",
	Short: "Write a draw that could not be saved back into the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var rec services.Recovery
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.session.Recover(cmd.Context(), rec); err != nil {
			if errors.Is(err, storage.ErrStaleCheckpoint) {
				return fmt.Errorf("the draw continued after this file was written, it cannot be restored: %w", err)
			}
			return err
		}
		printState(cmd.OutOrStdout(), a.session.State())
		return nil
	},
}

func printDraw(w io.Writer, draw *services.GroupDraw) {
	fmt.Fprintf(w, "%s (offert par %s)\n", draw.Lot.Name, draw.Lot.Sponsor)
	for _, r := range draw.Results {
		fmt.Fprintf(w, "  lot %s: %s %s, billet %s\n", r.LotNumber, r.FirstName, r.LastName, r.TicketID)
	}
	if draw.Unattributed > 0 {
		fmt.Fprintf(w, "  %d exemplaire(s) non attribué(s)\n", draw.Unattributed)
	}
}

func printState(w io.Writer, st services.State) {
	fmt.Fprintf(w, "Lots tirés: %d/%d, gagnants: %d, billets restants: %d (%d participants)\n",
		st.Cursor, st.TotalLots, st.Drawn, st.PoolSize, st.Persons)
	if st.Next != nil {
		fmt.Fprintf(w, "Prochain lot: %s (offert par %s) x%d\n", st.Next.Lot, st.Next.Sponsor, st.Next.Count)
	} else {
		fmt.Fprintln(w, "Tous les lots ont été tirés.")
	}
}

func init() {
	rootCmd.AddCommand(drawCmd, statusCmd, resetCmd, recoverCmd)
	drawCmd.Flags().IntP("groups", "n", 1, "Number of groups to draw")
	drawCmd.Flags().Bool("all", false, "Draw until every lot is attributed")
	resetCmd.Flags().Bool("yes", false, "Confirm the reset")
}
