// Package projection keeps a chat destination in step with the set of open
// tickets: one message per ticket, created once, edited when the ticket's
// state changes, deleted when the ticket leaves the open set.
package projection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sauerdaniel/ticketsync/internal/render"
	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

const (
	DefaultFloodCap  = 5
	DefaultPaceDelay = 1500 * time.Millisecond
)

// Source lists and fetches tickets.
type Source interface {
	ListOpenItemIDs(ctx context.Context) ([]int64, error)
	GetItem(ctx context.Context, id int64) (ticket.WorkItem, error)
}

// Messenger posts, edits and deletes chat messages.
type Messenger interface {
	Send(ctx context.Context, dest ticket.Destination, text string, actions render.ActionSet) (int64, error)
	Edit(ctx context.Context, dest ticket.Destination, messageID int64, text string, actions render.ActionSet) error
	Delete(ctx context.Context, dest ticket.Destination, messageID int64) error
}

// Store is the durable mirror of the tracked map.
type Store interface {
	Put(ctx context.Context, dest ticket.Destination, entry ticket.TrackedEntry) error
	GetAll(ctx context.Context, dest ticket.Destination) ([]ticket.TrackedEntry, error)
	Remove(ctx context.Context, dest ticket.Destination, itemID int64) error
}

// Renderer turns a ticket into message text and buttons.
type Renderer interface {
	Render(item ticket.WorkItem) (string, render.ActionSet)
}

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Config holds the engine's collaborators and limits.
type Config struct {
	Destination ticket.Destination
	Source      Source
	Messenger   Messenger
	Store       Store
	Renderer    Renderer

	FloodCap  int           // max Send calls per tick; default 5
	PaceDelay time.Duration // wait between consecutive sends; default 1.5s

	// Sleep waits between sends. Defaults to a timer that honors ctx.
	Sleep  func(ctx context.Context, d time.Duration) error
	Now    func() time.Time
	Logger Logger
}

// Engine reconciles open tickets against tracked messages, one tick at a time.
type Engine struct {
	dest      ticket.Destination
	source    Source
	messenger Messenger
	store     Store
	renderer  Renderer
	floodCap  int
	paceDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	logger    Logger

	tickMu sync.Mutex // serializes Tick

	mu         sync.RWMutex
	tracked    map[int64]ticket.TrackedEntry
	unsaved    map[int64]bool // tracked but not yet written to the store
	tickCount  int
	errorCount int
	lastTick   time.Time
}

// TickResult summarizes one reconciliation pass.
type TickResult struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	Listed    int // ids returned by the source
	Created   int // new messages posted
	Edited    int // messages brought up to date (not-modified included)
	Deleted   int // entries dropped because the ticket left the open set
	Unchanged int
	Deferred  int // new tickets left for a later tick by flood control
	Skipped   int // tickets whose fetch failed
	Failed    int // send/edit/delete calls that failed
	Persist   int // store writes that failed

	Err error // set when the tick was aborted before reconciling
}

// Mutations is the number of successful chat-side changes.
func (r TickResult) Mutations() int {
	return r.Created + r.Edited + r.Deleted
}

func (r TickResult) String() string {
	return fmt.Sprintf("listed=%d created=%d edited=%d deleted=%d unchanged=%d deferred=%d skipped=%d failed=%d",
		r.Listed, r.Created, r.Edited, r.Deleted, r.Unchanged, r.Deferred, r.Skipped, r.Failed)
}

// Stats are cumulative counters since the engine was built.
type Stats struct {
	Ticks    int
	Errors   int
	LastTick time.Time
	Tracked  int
}

// NewEngine builds an engine and seeds its tracked map from the store before
// any tick runs. It fails if the store cannot be read.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Source == nil || cfg.Messenger == nil || cfg.Store == nil {
		return nil, errors.New("projection: source, messenger and store are required")
	}
	if cfg.Destination.ChatID == 0 {
		return nil, errors.New("projection: destination chat id is required")
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.Renderer{}
	}
	if cfg.FloodCap <= 0 {
		cfg.FloodCap = DefaultFloodCap
	}
	if cfg.PaceDelay == 0 {
		cfg.PaceDelay = DefaultPaceDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = waitWithContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[ticketsync] ", log.LstdFlags)
	}

	e := &Engine{
		dest:      cfg.Destination,
		source:    cfg.Source,
		messenger: cfg.Messenger,
		store:     cfg.Store,
		renderer:  cfg.Renderer,
		floodCap:  cfg.FloodCap,
		paceDelay: cfg.PaceDelay,
		sleep:     cfg.Sleep,
		now:       cfg.Now,
		logger:    cfg.Logger,
		tracked:   make(map[int64]ticket.TrackedEntry),
		unsaved:   make(map[int64]bool),
	}

	entries, err := cfg.Store.GetAll(ctx, cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("loading tracked entries for %s: %w", cfg.Destination, err)
	}
	for _, entry := range entries {
		if entry.MessageID == 0 {
			e.logger.Printf("Warning: ignoring stored entry for ticket %d without a message id", entry.ItemID)
			continue
		}
		e.tracked[entry.ItemID] = entry
	}
	e.logger.Printf("Loaded %d tracked entries for %s", len(e.tracked), e.dest)

	return e, nil
}

// Destination returns the chat this engine projects into.
func (e *Engine) Destination() ticket.Destination {
	return e.dest
}

// Entries returns a snapshot of the tracked map ordered by item id.
func (e *Engine) Entries() []ticket.TrackedEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entries := make([]ticket.TrackedEntry, 0, len(e.tracked))
	for _, entry := range e.tracked {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ItemID < entries[j].ItemID })
	return entries
}

// Stats returns cumulative counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Ticks:    e.tickCount,
		Errors:   e.errorCount,
		LastTick: e.lastTick,
		Tracked:  len(e.tracked),
	}
}

// Tick runs one reconciliation pass. Ticks never overlap: a concurrent call
// waits for the running one to finish. Failures are logged and reported in
// the result; Tick itself never fails.
func (e *Engine) Tick(ctx context.Context) (res TickResult) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	res = TickResult{ID: uuid.NewString()[:8], StartedAt: e.now()}
	defer func() { e.finish(&res) }()

	ids, err := e.source.ListOpenItemIDs(ctx)
	if err != nil {
		res.Err = fmt.Errorf("listing open tickets: %w", err)
		e.logger.Printf("[%s] Tick skipped: %v", res.ID, res.Err)
		return res
	}
	res.Listed = len(ids)

	remote := make(map[int64]bool, len(ids))
	sends := 0
	for _, id := range ids {
		if remote[id] {
			continue
		}
		remote[id] = true

		if ctx.Err() != nil {
			res.Err = fmt.Errorf("tick interrupted: %w", ctx.Err())
			e.logger.Printf("[%s] %v; leaving remaining tickets for the next tick", res.ID, res.Err)
			return res
		}

		item, err := e.source.GetItem(ctx, id)
		if err != nil {
			res.Skipped++
			e.logger.Printf("[%s] Warning: fetching ticket %d: %v", res.ID, id, err)
			continue
		}
		item.ID = id

		entry, tracked := e.entry(id)
		switch {
		case !tracked:
			e.create(ctx, &res, &sends, item)
		case entry.State != item.State:
			e.update(ctx, &res, &sends, entry, item)
		default:
			res.Unchanged++
			if e.isUnsaved(id) {
				e.persist(ctx, &res, entry)
			}
		}
	}

	for _, entry := range e.goneEntries(remote) {
		if ctx.Err() != nil || !e.remove(ctx, &res, entry) {
			res.Err = fmt.Errorf("tick interrupted: %w", ctx.Err())
			e.logger.Printf("[%s] %v; gone tickets from %d on stay tracked for the next tick", res.ID, res.Err, entry.ItemID)
			return res
		}
	}

	return res
}

// create posts a message for an untracked ticket, subject to flood control.
func (e *Engine) create(ctx context.Context, res *TickResult, sends *int, item ticket.WorkItem) {
	if *sends >= e.floodCap {
		res.Deferred++
		return
	}
	if *sends > 0 {
		if err := e.sleep(ctx, e.paceDelay); err != nil {
			res.Deferred++
			return
		}
	}
	*sends++

	text, actions := e.renderer.Render(item)
	messageID, err := e.messenger.Send(ctx, e.dest, text, actions)
	if err != nil {
		res.Failed++
		e.logger.Printf("[%s] Failed to post ticket #%s (%d): %v", res.ID, item.Number, item.ID, err)
		return
	}

	entry := ticket.TrackedEntry{
		ItemID:    item.ID,
		Number:    item.Number,
		State:     item.State,
		MessageID: messageID,
		UpdatedAt: e.now(),
	}
	e.setEntry(entry)
	res.Created++
	e.logger.Printf("[%s] Posted ticket #%s (%d) as message %d", res.ID, item.Number, item.ID, messageID)
	e.persist(ctx, res, entry)
}

// update edits the message of a ticket whose state changed. A vanished
// message is forgotten and the ticket is posted again in the same tick.
func (e *Engine) update(ctx context.Context, res *TickResult, sends *int, entry ticket.TrackedEntry, item ticket.WorkItem) {
	text, actions := e.renderer.Render(item)
	err := e.messenger.Edit(ctx, e.dest, entry.MessageID, text, actions)
	switch {
	case err == nil, errors.Is(err, ticket.ErrNotModified):
		previous := entry.State
		entry.State = item.State
		entry.Number = item.Number
		entry.UpdatedAt = e.now()
		e.setEntry(entry)
		res.Edited++
		e.logger.Printf("[%s] Ticket #%s (%d) state %q -> %q", res.ID, item.Number, item.ID, previous, item.State)
		e.persist(ctx, res, entry)
	case errors.Is(err, ticket.ErrMessageNotFound):
		e.logger.Printf("[%s] Message %d for ticket #%s is gone, posting again", res.ID, entry.MessageID, item.Number)
		e.forget(ctx, res, item.ID)
		e.create(ctx, res, sends, item)
	default:
		res.Failed++
		e.logger.Printf("[%s] Failed to edit message %d for ticket #%s: %v", res.ID, entry.MessageID, item.Number, err)
	}
}

// remove deletes the message of a ticket that left the open set. The entry
// is dropped whether or not the delete succeeds, unless the delete was cut
// short by ctx; then the entry is kept and remove reports false.
func (e *Engine) remove(ctx context.Context, res *TickResult, entry ticket.TrackedEntry) bool {
	err := e.messenger.Delete(ctx, e.dest, entry.MessageID)
	if err != nil && ctx.Err() != nil {
		return false
	}
	if err != nil && !errors.Is(err, ticket.ErrMessageNotFound) {
		res.Failed++
		e.logger.Printf("[%s] Warning: deleting message %d for ticket %d: %v (dropping it anyway)", res.ID, entry.MessageID, entry.ItemID, err)
	}
	e.forget(ctx, res, entry.ItemID)
	res.Deleted++
	e.logger.Printf("[%s] Ticket %d left the open set, message %d removed", res.ID, entry.ItemID, entry.MessageID)
	return true
}

func (e *Engine) goneEntries(remote map[int64]bool) []ticket.TrackedEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var gone []ticket.TrackedEntry
	for id, entry := range e.tracked {
		if !remote[id] {
			gone = append(gone, entry)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].ItemID < gone[j].ItemID })
	return gone
}

func (e *Engine) entry(id int64) (ticket.TrackedEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.tracked[id]
	return entry, ok
}

func (e *Engine) setEntry(entry ticket.TrackedEntry) {
	e.mu.Lock()
	e.tracked[entry.ItemID] = entry
	e.mu.Unlock()
}

// Store writes mirror a chat mutation that already happened, so they run
// detached from the tick's cancellation. Stores bound their own calls.

// forget drops an entry from memory and the store.
func (e *Engine) forget(ctx context.Context, res *TickResult, id int64) {
	e.mu.Lock()
	delete(e.tracked, id)
	delete(e.unsaved, id)
	e.mu.Unlock()
	if err := e.store.Remove(context.WithoutCancel(ctx), e.dest, id); err != nil {
		res.Persist++
		e.logger.Printf("[%s] Warning: removing stored entry for ticket %d: %v", res.ID, id, err)
	}
}

// persist writes entry to the store. A failed write is retried on a later
// tick even if the ticket does not change again.
func (e *Engine) persist(ctx context.Context, res *TickResult, entry ticket.TrackedEntry) {
	err := e.store.Put(context.WithoutCancel(ctx), e.dest, entry)

	e.mu.Lock()
	if err != nil {
		e.unsaved[entry.ItemID] = true
	} else {
		delete(e.unsaved, entry.ItemID)
	}
	e.mu.Unlock()

	if err != nil {
		res.Persist++
		e.logger.Printf("[%s] Warning: storing entry for ticket %d: %v", res.ID, entry.ItemID, err)
	}
}

func (e *Engine) isUnsaved(id int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unsaved[id]
}

func (e *Engine) finish(res *TickResult) {
	res.Duration = e.now().Sub(res.StartedAt)

	e.mu.Lock()
	if res.Err != nil {
		e.errorCount++
	} else {
		e.tickCount++
	}
	e.lastTick = res.StartedAt
	ticks, errs := e.tickCount, e.errorCount
	e.mu.Unlock()

	if res.Err == nil {
		e.logger.Printf("[%s] Tick completed in %v: %s (total ticks: %d, errors: %d)", res.ID, res.Duration, res, ticks, errs)
	}
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
