package board

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"sticky-board/backend"
	"sticky-board/domain"
)

// Router picks the backend for the next call.
type Router interface {
	Select() (backend.Backend, backend.Mode)
}

// View is a published snapshot of the collection.
type View struct {
	Version uint64
	Mode    backend.Mode
	Tasks   []domain.Task
}

// Option configures a Board.
type Option func(*Board)

// WithLogger sets the logger used for mutation events.
func WithLogger(logger *log.Logger) Option {
	return func(b *Board) {
		if logger != nil {
			b.log = logger
		}
	}
}

// WithIDGenerator overrides how provisional ids are made.
func WithIDGenerator(fn func() string) Option {
	return func(b *Board) {
		if fn != nil {
			b.newID = fn
		}
	}
}

// WithColorPicker overrides the color assigned to new tasks.
func WithColorPicker(fn func() string) Option {
	return func(b *Board) {
		if fn != nil {
			b.pickColor = fn
		}
	}
}

// Board holds the in-memory task collection and applies mutations
// optimistically against whichever backend the router selects.
type Board struct {
	router    Router
	log       *log.Logger
	newID     func() string
	pickColor func() string
	guard     *taskGuard

	mu         sync.Mutex
	tasks      []domain.Task
	version    uint64
	generation uint64
	mode       backend.Mode
	loaded     bool
	aliases    map[string]string
	subs       map[int]func(View)
	nextSub    int

	pubMu     sync.Mutex
	published uint64
}

// New returns an empty board. Call Load to populate it.
func New(router Router, opts ...Option) *Board {
	if router == nil {
		panic("board: nil router")
	}
	b := &Board{
		router:    router,
		log:       log.StandardLogger(),
		newID:     domain.NewLocalID,
		pickColor: domain.PickColorClass,
		guard:     newTaskGuard(),
		aliases:   make(map[string]string),
		subs:      make(map[int]func(View)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// pending is what a mutation needs to undo its optimistic publish.
type pending struct {
	snapshot   []domain.Task
	version    uint64
	generation uint64
}

// Load replaces the collection with a fresh listing from the selected
// backend. On failure the current collection is kept.
func (b *Board) Load(ctx context.Context) error {
	be, mode := b.router.Select()
	return b.load(ctx, be, mode)
}

func (b *Board) load(ctx context.Context, be backend.Backend, mode backend.Mode) error {
	m := newMutationMetrics(ctx, b.log, "load", mode, "")
	tasks, err := be.List(ctx)
	if err != nil {
		err = domain.Classify("load", "", err)
		m.Finish(err)
		return err
	}
	tasks = b.sanitize(tasks)

	b.mu.Lock()
	b.tasks = tasks
	b.mode = mode
	b.loaded = true
	b.generation++
	clear(b.aliases)
	view := b.commitLocked()
	b.mu.Unlock()

	b.publish(view)
	m.Finish(nil)
	return nil
}

// Sync reloads when the selected backend differs from the one last loaded.
func (b *Board) Sync(ctx context.Context) (bool, error) {
	_, mode := b.router.Select()
	b.mu.Lock()
	same := b.loaded && b.mode == mode
	b.mu.Unlock()
	if same {
		return false, nil
	}
	if err := b.Load(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// current returns the selected backend. When the selection changed since
// the last load the collection is replaced by a fresh listing first, so a
// mutation never mixes tasks of two backends.
func (b *Board) current(ctx context.Context) (backend.Backend, backend.Mode, error) {
	be, mode := b.router.Select()
	b.mu.Lock()
	prev := b.mode
	stale := b.loaded && prev != mode
	b.mu.Unlock()
	if !stale {
		return be, mode, nil
	}
	b.log.WithFields(log.Fields{"from": prev, "to": mode}).Info("backend changed, reloading board")
	if err := b.load(ctx, be, mode); err != nil {
		return nil, mode, err
	}
	return be, mode, nil
}

// Mode reports the backend the current collection was loaded from.
func (b *Board) Mode() backend.Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Tasks returns a copy of the current collection.
func (b *Board) Tasks() []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.tasks)
}

// Snapshot returns the current collection with its version.
func (b *Board) Snapshot() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewLocked()
}

// InFlight reports whether a mutation on id has not completed yet.
func (b *Board) InFlight(id string) bool {
	return b.guard.held(b.resolve(id))
}

// Subscribe registers fn for every published view. The returned func
// unregisters it. fn runs synchronously and must not mutate the board.
func (b *Board) Subscribe(fn func(View)) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Create adds a task at the tail with a provisional id, then swaps in the
// task the backend returns.
func (b *Board) Create(ctx context.Context, status domain.Status, text string) (domain.Task, error) {
	be, mode, err := b.current(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	draft := domain.Task{
		ID:         b.newID(),
		Text:       text,
		Status:     status,
		ColorClass: b.pickColor(),
		CreatedAt:  domain.NowMillis(),
	}
	m := newMutationMetrics(ctx, b.log, "create", mode, draft.ID)
	if err := draft.Validate(); err != nil {
		err = &domain.Error{Op: "create", Kind: domain.ErrValidation, Err: errors.Unwrap(err)}
		m.Finish(err)
		return domain.Task{}, err
	}

	release, err := b.guard.acquire(ctx, draft.ID)
	if err != nil {
		err = domain.Classify("create", draft.ID, err)
		m.Finish(err)
		return domain.Task{}, err
	}
	defer release()

	b.mu.Lock()
	if indexOf(b.tasks, draft.ID) >= 0 {
		b.mu.Unlock()
		err := &domain.Error{Op: "create", Kind: domain.ErrConflict, ID: draft.ID}
		m.Finish(err)
		return domain.Task{}, err
	}
	p := b.beginLocked()
	b.tasks = append(b.tasks, draft)
	view := b.commitLocked()
	b.mu.Unlock()
	b.publish(view)

	created, err := be.Create(ctx, backend.Draft{
		ID:         draft.ID,
		Text:       draft.Text,
		Status:     draft.Status,
		ColorClass: draft.ColorClass,
	})
	if err != nil {
		err = domain.Classify("create", draft.ID, err)
		b.rollback(p, func(tasks []domain.Task) []domain.Task {
			return removeID(tasks, draft.ID)
		})
		m.SetRolledBack()
		m.Finish(err)
		return domain.Task{}, err
	}

	created = b.reconcile(p, draft.ID, created)
	m.SetTaskID(created.ID)
	m.Finish(nil)
	return created, nil
}

// Edit replaces the text of a task. Surrounding whitespace is trimmed.
func (b *Board) Edit(ctx context.Context, id, text string) (domain.Task, error) {
	release, id, err := b.lockTask(ctx, "edit", id)
	if err != nil {
		return domain.Task{}, err
	}
	defer release()

	be, mode, err := b.current(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	m := newMutationMetrics(ctx, b.log, "edit", mode, id)
	next := strings.TrimSpace(text)

	b.mu.Lock()
	idx := indexOf(b.tasks, id)
	if idx < 0 {
		b.mu.Unlock()
		err := domain.NotFound("edit", id)
		m.Finish(err)
		return domain.Task{}, err
	}
	prev := b.tasks[idx]
	if next == prev.Text || (next == "" && strings.TrimSpace(prev.Text) == "") {
		b.mu.Unlock()
		m.SetSkipped()
		m.Finish(nil)
		return prev, nil
	}
	p := b.beginLocked()
	b.tasks[idx].Text = next
	view := b.commitLocked()
	b.mu.Unlock()
	b.publish(view)

	status := prev.Status
	updated, err := be.Update(ctx, id, backend.Fields{Text: &next, Status: &status})
	if err != nil {
		err = domain.Classify("edit", id, err)
		b.rollback(p, func(tasks []domain.Task) []domain.Task {
			return replaceID(tasks, id, prev)
		})
		m.SetRolledBack()
		m.Finish(err)
		return domain.Task{}, err
	}

	updated = b.reconcile(p, id, updated)
	m.Finish(nil)
	return updated, nil
}

// Delete removes a task. A failed delete puts it back where it was.
func (b *Board) Delete(ctx context.Context, id string) error {
	release, id, err := b.lockTask(ctx, "delete", id)
	if err != nil {
		return err
	}
	defer release()

	be, mode, err := b.current(ctx)
	if err != nil {
		return err
	}
	m := newMutationMetrics(ctx, b.log, "delete", mode, id)

	b.mu.Lock()
	idx := indexOf(b.tasks, id)
	if idx < 0 {
		b.mu.Unlock()
		err := domain.NotFound("delete", id)
		m.Finish(err)
		return err
	}
	prev := b.tasks[idx]
	p := b.beginLocked()
	b.tasks = slices.Delete(b.tasks, idx, idx+1)
	view := b.commitLocked()
	b.mu.Unlock()
	b.publish(view)

	if _, err := be.Remove(ctx, id); err != nil {
		err = domain.Classify("delete", id, err)
		b.rollback(p, func(tasks []domain.Task) []domain.Task {
			return reinsert(tasks, idx, prev)
		})
		m.SetRolledBack()
		m.Finish(err)
		return err
	}

	b.mu.Lock()
	if b.generation == p.generation {
		// a stale alias would resolve callers to a task that no longer exists
		for from, to := range b.aliases {
			if to == id {
				delete(b.aliases, from)
			}
		}
	}
	b.mu.Unlock()
	m.Finish(nil)
	return nil
}

// ChangeStatus moves a task to another column, reinserting it at the head
// or tail of the whole collection.
func (b *Board) ChangeStatus(ctx context.Context, id string, status domain.Status, pos domain.Position) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, &domain.Error{Op: "change status", Kind: domain.ErrValidation, ID: id, Err: fmt.Errorf("invalid status %q", status)}
	}
	release, id, err := b.lockTask(ctx, "change status", id)
	if err != nil {
		return domain.Task{}, err
	}
	defer release()

	be, mode, err := b.current(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	m := newMutationMetrics(ctx, b.log, "change_status", mode, id)

	b.mu.Lock()
	idx := indexOf(b.tasks, id)
	if idx < 0 {
		b.mu.Unlock()
		err := domain.NotFound("change status", id)
		m.Finish(err)
		return domain.Task{}, err
	}
	prev := b.tasks[idx]
	moved := prev
	moved.Status = status
	p := b.beginLocked()
	b.tasks = slices.Delete(b.tasks, idx, idx+1)
	if pos == domain.Head {
		b.tasks = slices.Insert(b.tasks, 0, moved)
	} else {
		b.tasks = append(b.tasks, moved)
	}
	view := b.commitLocked()
	b.mu.Unlock()
	b.publish(view)

	text := prev.Text
	updated, err := be.Update(ctx, id, backend.Fields{Text: &text, Status: &status, Position: &pos})
	if err != nil {
		err = domain.Classify("change status", id, err)
		b.rollback(p, func(tasks []domain.Task) []domain.Task {
			return reinsert(removeID(tasks, id), idx, prev)
		})
		m.SetRolledBack()
		m.Finish(err)
		return domain.Task{}, err
	}

	updated = b.reconcile(p, id, updated)
	m.Finish(nil)
	return updated, nil
}

// lockTask resolves aliases and takes the per-task guard. If the id was
// replaced while waiting, the guard is retaken on the new id.
func (b *Board) lockTask(ctx context.Context, op, id string) (func(), string, error) {
	for {
		resolved := b.resolve(id)
		release, err := b.guard.acquire(ctx, resolved)
		if err != nil {
			return nil, "", domain.Classify(op, resolved, err)
		}
		if b.resolve(id) == resolved {
			return release, resolved, nil
		}
		release()
	}
}

func (b *Board) resolve(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for range len(b.aliases) + 1 {
		next, ok := b.aliases[id]
		if !ok || next == id {
			return id
		}
		id = next
	}
	return id
}

func (b *Board) beginLocked() pending {
	return pending{
		snapshot:   slices.Clone(b.tasks),
		version:    b.version + 1,
		generation: b.generation,
	}
}

func (b *Board) commitLocked() View {
	b.version++
	return b.viewLocked()
}

func (b *Board) viewLocked() View {
	return View{Version: b.version, Mode: b.mode, Tasks: slices.Clone(b.tasks)}
}

// rollback restores the pre-mutation snapshot when nothing has been
// published since, otherwise it applies undo to the current collection.
func (b *Board) rollback(p pending, undo func([]domain.Task) []domain.Task) {
	b.mu.Lock()
	if b.generation != p.generation {
		b.mu.Unlock()
		return
	}
	if b.version == p.version {
		b.tasks = p.snapshot
	} else {
		b.tasks = undo(b.tasks)
	}
	view := b.commitLocked()
	b.mu.Unlock()
	b.publish(view)
}

// reconcile puts the authoritative task where the entry for matchID is.
func (b *Board) reconcile(p pending, matchID string, auth domain.Task) domain.Task {
	if auth.ID == "" {
		auth.ID = matchID
	}
	b.mu.Lock()
	if b.generation != p.generation {
		b.mu.Unlock()
		return auth
	}
	if auth.ID != matchID {
		if j := indexOf(b.tasks, auth.ID); j >= 0 {
			b.tasks = slices.Delete(b.tasks, j, j+1)
		}
		b.aliases[matchID] = auth.ID
	}
	if i := indexOf(b.tasks, matchID); i >= 0 {
		if b.tasks[i] == auth {
			b.mu.Unlock()
			return auth
		}
		b.tasks[i] = auth
	}
	view := b.commitLocked()
	b.mu.Unlock()
	b.publish(view)
	return auth
}

// publish delivers view to subscribers outside the collection lock,
// dropping views older than one already delivered.
func (b *Board) publish(view View) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if view.Version <= b.published {
		return
	}
	b.published = view.Version

	b.mu.Lock()
	subs := make([]func(View), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(View{Version: view.Version, Mode: view.Mode, Tasks: slices.Clone(view.Tasks)})
	}
}

// sanitize drops entries that would break id uniqueness or carry an
// unknown status.
func (b *Board) sanitize(tasks []domain.Task) []domain.Task {
	seen := make(map[string]struct{}, len(tasks))
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == "" || !t.Status.Valid() {
			b.log.WithFields(log.Fields{"task": t.ID, "status": t.Status}).Warn("dropping malformed task")
			continue
		}
		if _, dup := seen[t.ID]; dup {
			b.log.WithField("task", t.ID).Warn("dropping duplicate task")
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

func indexOf(tasks []domain.Task, id string) int {
	return slices.IndexFunc(tasks, func(t domain.Task) bool { return t.ID == id })
}

func removeID(tasks []domain.Task, id string) []domain.Task {
	if i := indexOf(tasks, id); i >= 0 {
		return slices.Delete(tasks, i, i+1)
	}
	return tasks
}

func replaceID(tasks []domain.Task, id string, t domain.Task) []domain.Task {
	if i := indexOf(tasks, id); i >= 0 {
		tasks[i] = t
	}
	return tasks
}

func reinsert(tasks []domain.Task, idx int, t domain.Task) []domain.Task {
	if indexOf(tasks, t.ID) >= 0 {
		return tasks
	}
	return slices.Insert(tasks, min(idx, len(tasks)), t)
}
