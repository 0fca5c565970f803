package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/logger"

	"tombola/internal/models"
	"tombola/internal/storage"
)

// Exporter rewrites the published winners lists.
type Exporter interface {
	Rewrite(results []models.Result) error
	Remove() error
}

// Recorder observes draw activity.
type Recorder interface {
	GroupDrawn(restricted bool, winners int)
	Shortage(kind string)
	PersistenceFailed()
	Progress(cursor, poolTickets int)
}

// PersistenceError reports that a draw succeeded in memory but could not be
// written. The draw is kept; Save retries the write.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "draw kept in memory but not saved: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DrawSession holds the state of one raffle: the remaining tickets, the lot
// list, the cursor, the restricted-lot winners and the results. Every
// operation runs under a single lock so that a draw and its persistence
// never interleave with another operator action. The ledger's own lock
// extends this to other processes opened on the same ledger; it is held
// from the reload that precedes a draw until the draw is in the ledger.
type DrawSession struct {
	mu sync.Mutex

	engine   *Engine
	ledger   storage.Ledger
	exporter Exporter
	recorder Recorder

	original []models.Ticket
	lots     []models.Lot

	pool    *TicketPool
	elig    *Eligibility
	cursor  int
	results []models.Result

	// unsaved holds results not yet in the ledger. dirty is set while the
	// ledger lags behind memory, exportStale while the export files do.
	// savedCursor is the cursor the ledger holds.
	unsaved     []models.Result
	dirty       bool
	exportStale bool
	savedCursor int

	// locked is set while the session holds the ledger lock.
	locked bool
}

// SessionOption configures a DrawSession.
type SessionOption func(*DrawSession)

// WithExporter rewrites export files after every draw.
func WithExporter(e Exporter) SessionOption {
	return func(s *DrawSession) { s.exporter = e }
}

// WithRecorder reports draw activity to r.
func WithRecorder(r Recorder) SessionOption {
	return func(s *DrawSession) { s.recorder = r }
}

// NewDrawSession creates a FRESH session. Person keys are derived from the
// engine's identity policy; restrictedLots lists the lots a person may win
// only once.
func NewDrawSession(tickets []models.Ticket, lots []models.Lot, restrictedLots []string, engine *Engine, ledger storage.Ledger, opts ...SessionOption) *DrawSession {
	s := &DrawSession{
		engine:   engine,
		ledger:   ledger,
		exporter: nopExporter{},
		recorder: nopRecorder{},
		original: engine.Policy().Identity.Assign(tickets),
		lots:     lots,
		elig:     NewEligibility(restrictedLots),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = NewTicketPool(s.original)
	s.recorder.Progress(s.cursor, s.pool.Len())
	return s
}

// Resume rehydrates the session from the ledger: results, cursor and
// restricted-lot winners. Tickets already drawn are removed from the pool.
func (s *DrawSession) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLocked(ctx); err != nil {
		return err
	}
	defer s.releaseLocked()

	results, cp, err := s.ledger.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}
	s.loadLocked(results, cp)
	s.exportStale = false

	logger.Infof("Resumed session: %d results, cursor %d/%d, %d tickets left", len(results), s.cursor, len(s.lots), s.pool.Len())
	return nil
}

// Refresh reloads the ledger if another session has written to it. A
// session with unsaved results keeps its own state.
func (s *DrawSession) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty {
		return nil
	}
	if err := s.acquireLocked(ctx); err != nil {
		return err
	}
	defer s.releaseLocked()
	return s.refreshLocked(ctx)
}

func (s *DrawSession) refreshLocked(ctx context.Context) error {
	results, cp, err := s.ledger.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}
	if s.changedSince(results, cp) {
		logger.Warningf("Ledger changed by another session: now %d results at lot %d, had %d at lot %d",
			len(results), cp.Cursor, len(s.results), s.savedCursor)
	}
	s.loadLocked(results, cp)
	return nil
}

func (s *DrawSession) changedSince(results []models.Result, cp storage.Checkpoint) bool {
	if cp.Cursor != s.savedCursor || len(results) != len(s.results) {
		return true
	}
	return len(results) > 0 && results[len(results)-1].BatchID != s.results[len(s.results)-1].BatchID
}

// loadLocked replaces the in-memory state with the ledger's.
func (s *DrawSession) loadLocked(results []models.Result, cp storage.Checkpoint) {
	pool := NewTicketPool(s.original)
	for _, r := range results {
		if pool.Remove(r.TicketID) == 0 {
			logger.Warningf("Ledger ticket %s is not in the ticket list", r.TicketID)
		}
	}

	cursor := cp.Cursor
	if cursor > len(s.lots) {
		logger.Warningf("Stored cursor %d is past the %d lots, clamping", cursor, len(s.lots))
		cursor = len(s.lots)
	}
	if cursor < 0 {
		cursor = 0
	}

	s.pool = pool
	s.cursor = cursor
	s.savedCursor = cp.Cursor
	s.results = results
	s.elig.Restore(cp.Restrictions)
	s.unsaved, s.dirty = nil, false
	s.recorder.Progress(s.cursor, s.pool.Len())
}

// acquireLocked takes the ledger lock unless the session already holds it.
func (s *DrawSession) acquireLocked(ctx context.Context) error {
	if s.locked {
		return nil
	}
	if err := s.ledger.Lock(ctx); err != nil {
		return fmt.Errorf("locking ledger: %w", err)
	}
	s.locked = true
	return nil
}

// releaseLocked gives the ledger lock back once the ledger holds every
// result drawn here.
func (s *DrawSession) releaseLocked() {
	if !s.locked || s.dirty {
		return
	}
	if err := s.ledger.Unlock(); err != nil {
		logger.Errorf("Releasing ledger lock: %v", err)
		return
	}
	s.locked = false
}

// DrawNext draws the next group of lots. Shortages are returned as errors
// and leave the session untouched. When persisting fails the draw is kept
// and returned together with a *PersistenceError; no further draw happens
// until Save succeeds.
func (s *DrawSession) DrawNext(ctx context.Context) (*GroupDraw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLocked(ctx); err != nil {
		return nil, err
	}
	defer s.releaseLocked()

	if s.dirty || s.exportStale {
		if err := s.persistLocked(ctx); err != nil {
			return nil, err
		}
	}
	if err := s.refreshLocked(ctx); err != nil {
		return nil, err
	}

	draw, err := s.engine.DrawNextGroup(s.pool, s.lots, s.cursor, s.elig)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientTickets):
			s.recorder.Shortage("insufficient_tickets")
		case errors.Is(err, ErrNoTicketsLeft):
			s.recorder.Shortage("no_tickets_left")
		}
		logger.Warningf("Draw at lot %d: %v", s.cursor, err)
		return nil, err
	}

	s.cursor = draw.NextCursor
	s.results = append(s.results, draw.Results...)
	s.unsaved = append(s.unsaved, draw.Results...)
	s.dirty, s.exportStale = true, true

	s.recorder.GroupDrawn(draw.Restricted, len(draw.Results))
	s.recorder.Progress(s.cursor, s.pool.Len())
	if draw.Shortage != nil {
		s.recorder.Shortage("no_eligible_participants")
		logger.Warningf("Lot %q: %v", draw.Lot.Name, draw.Shortage)
	}
	if draw.RoundResets > 0 {
		logger.Infof("Lot %q: everyone became eligible again %d time(s)", draw.Lot.Name, draw.RoundResets)
	}
	logger.Infof("Drew %d winner(s) for %q offered by %q, cursor %d/%d", len(draw.Results), draw.Lot.Name, draw.Lot.Sponsor, s.cursor, len(s.lots))

	if err := s.persistLocked(ctx); err != nil {
		return draw, err
	}
	return draw, nil
}

// Save writes whatever the ledger and the exports are missing. It never
// draws again.
func (s *DrawSession) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLocked(ctx); err != nil {
		return err
	}
	defer s.releaseLocked()
	return s.persistLocked(ctx)
}

func (s *DrawSession) persistLocked(ctx context.Context) error {
	if s.dirty {
		cp := storage.Checkpoint{Cursor: s.cursor, Restrictions: s.elig.Snapshot()}
		err := s.ledger.Append(ctx, s.savedCursor, s.unsaved, cp)
		if errors.Is(err, storage.ErrStaleCheckpoint) {
			return s.discardLocked(ctx, err)
		}
		if err != nil {
			s.recorder.PersistenceFailed()
			logger.Errorf("Saving %d result(s) failed: %v", len(s.unsaved), err)
			return &PersistenceError{Err: err}
		}
		s.unsaved, s.dirty = nil, false
		s.savedCursor = s.cursor
	}
	if s.exportStale {
		if err := s.exporter.Rewrite(s.results); err != nil {
			s.recorder.PersistenceFailed()
			logger.Errorf("Exporting results failed: %v", err)
			return &PersistenceError{Err: err}
		}
		s.exportStale = false
	}
	return nil
}

// discardLocked drops unsaved results the ledger can no longer accept and
// reloads the ledger's state.
func (s *DrawSession) discardLocked(ctx context.Context, cause error) error {
	logger.Errorf("Discarding %d unsaved result(s): %v", len(s.unsaved), cause)
	s.recorder.PersistenceFailed()
	s.unsaved, s.dirty = nil, false
	if err := s.refreshLocked(ctx); err != nil {
		return errors.Join(cause, err)
	}
	s.exportStale = true
	return fmt.Errorf("draw discarded: %w", cause)
}

// Reset deletes the ledger and the exports and returns the session to its
// FRESH state with every original ticket back in the pool. Once the ledger
// is cleared memory is reset even if the export files cannot be removed;
// the exports are then rewritten empty by the next Save or draw.
func (s *DrawSession) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLocked(ctx); err != nil {
		return err
	}
	defer s.releaseLocked()

	if err := s.ledger.Clear(ctx); err != nil {
		return fmt.Errorf("clearing ledger: %w", err)
	}

	s.pool = NewTicketPool(s.original)
	s.cursor, s.savedCursor = 0, 0
	s.results = nil
	s.unsaved, s.dirty, s.exportStale = nil, false, false
	s.elig.Reset()
	s.recorder.Progress(s.cursor, s.pool.Len())
	logger.Infof("Cleared draw history, %d tickets back in the pool", s.pool.Len())

	if err := s.exporter.Remove(); err != nil {
		s.exportStale = true
		s.recorder.PersistenceFailed()
		logger.Errorf("Removing export files failed: %v", err)
		return &PersistenceError{Err: fmt.Errorf("removing exports: %w", err)}
	}
	return nil
}

// Recovery is a draw that was announced but never reached the ledger.
type Recovery struct {
	From       int                `json:"from"`
	Checkpoint storage.Checkpoint `json:"checkpoint"`
	Results    []models.Result    `json:"results"`
}

// PendingRecovery returns the results the ledger is missing, if any.
func (s *DrawSession) PendingRecovery() (Recovery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return Recovery{}, false
	}
	return Recovery{
		From:       s.savedCursor,
		Checkpoint: storage.Checkpoint{Cursor: s.cursor, Restrictions: s.elig.Snapshot()},
		Results:    append([]models.Result(nil), s.unsaved...),
	}, true
}

// Recover writes a draw saved by PendingRecovery into the ledger. It fails
// with storage.ErrStaleCheckpoint if the ledger moved since that draw.
func (s *DrawSession) Recover(ctx context.Context, rec Recovery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty {
		return errors.New("session has unsaved results, save them first")
	}
	if err := s.acquireLocked(ctx); err != nil {
		return err
	}
	defer s.releaseLocked()

	keys := make(map[string]string, len(s.original))
	for _, t := range s.original {
		keys[t.ID] = t.PersonKey
	}
	results := make([]models.Result, len(rec.Results))
	for i, r := range rec.Results {
		key, ok := keys[r.TicketID]
		if !ok {
			return fmt.Errorf("recovered ticket %s is not in the ticket list", r.TicketID)
		}
		r.PersonKey = key
		results[i] = r
	}

	if err := s.ledger.Append(ctx, rec.From, results, rec.Checkpoint); err != nil {
		return fmt.Errorf("restoring %d result(s): %w", len(results), err)
	}
	if err := s.refreshLocked(ctx); err != nil {
		return err
	}
	logger.Infof("Restored %d result(s), cursor %d/%d", len(results), s.cursor, len(s.lots))

	s.exportStale = true
	return s.persistLocked(ctx)
}

// GroupPreview describes the next group to draw.
type GroupPreview struct {
	Lot        string   `json:"lot"`
	Sponsor    string   `json:"sponsor"`
	Count      int      `json:"count"`
	Restricted bool     `json:"restricted"`
	LotNumbers []string `json:"lotNumbers"`
}

// State is a snapshot of the session's progress.
type State struct {
	Cursor    int           `json:"cursor"`
	TotalLots int           `json:"totalLots"`
	PoolSize  int           `json:"poolSize"`
	Persons   int           `json:"persons"`
	Drawn     int           `json:"drawn"`
	Exhausted bool          `json:"exhausted"`
	Unsaved   bool          `json:"unsaved"`
	Next      *GroupPreview `json:"next,omitempty"`
}

// State returns the current progress.
func (s *DrawSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Cursor:    s.cursor,
		TotalLots: len(s.lots),
		PoolSize:  s.pool.Len(),
		Persons:   s.pool.PersonCount(),
		Drawn:     len(s.results),
		Exhausted: s.cursor >= len(s.lots),
		Unsaved:   s.dirty || s.exportStale,
	}
	if size := GroupSize(s.lots, s.cursor); size > 0 {
		lot := s.lots[s.cursor]
		st.Next = &GroupPreview{
			Lot:        lot.Name,
			Sponsor:    lot.Sponsor,
			Count:      size,
			Restricted: s.elig.IsRestricted(lot.Name),
			LotNumbers: LotNumbers(s.lots, s.cursor, size),
		}
	}
	return st
}

// Results returns a copy of every result drawn so far.
func (s *DrawSession) Results() []models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Result(nil), s.results...)
}

// PublicResults returns the redacted results.
func (s *DrawSession) PublicResults() []models.PublicResult {
	return models.PublicResults(s.Results())
}

type nopExporter struct{}

func (nopExporter) Rewrite([]models.Result) error { return nil }
func (nopExporter) Remove() error                 { return nil }

type nopRecorder struct{}

func (nopRecorder) GroupDrawn(bool, int) {}
func (nopRecorder) Shortage(string)      {}
func (nopRecorder) PersistenceFailed()   {}
func (nopRecorder) Progress(int, int)    {}
