package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rahul/trilha/internal/plan"
	"github.com/rahul/trilha/internal/store"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// countingStore counts writes and can be told to fail a batch.
type countingStore struct {
	*store.Store

	mu            sync.Mutex
	inserts       int
	updates       int
	deprecations  int
	failInsert    error
	failDeprecate error
}

func (c *countingStore) InsertCards(ctx context.Context, cards []store.Card) error {
	c.mu.Lock()
	c.inserts++
	c.mu.Unlock()
	if c.failInsert != nil {
		return c.failInsert
	}
	return c.Store.InsertCards(ctx, cards)
}

func (c *countingStore) UpdateDescriptions(ctx context.Context, updates []store.DescriptionUpdate) error {
	c.mu.Lock()
	c.updates++
	c.mu.Unlock()
	return c.Store.UpdateDescriptions(ctx, updates)
}

func (c *countingStore) DeprecateCards(ctx context.Context, ids []string, version int) error {
	c.mu.Lock()
	c.deprecations++
	c.mu.Unlock()
	if c.failDeprecate != nil {
		return c.failDeprecate
	}
	return c.Store.DeprecateCards(ctx, ids, version)
}

func (c *countingStore) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inserts + c.updates + c.deprecations
}

func newReconciler(t *testing.T) (*Reconciler, *countingStore) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	cs := &countingStore{Store: s}
	r := New(cs, WithLogger(zaptest.NewLogger(t)), WithClock(func() time.Time { return fixedNow }))
	return r, cs
}

func marketingPlan(titles ...string) plan.Plan {
	p := plan.Plan{Type: "5w2h", Area: "Marketing"}
	for _, title := range titles {
		p.Cards = append(p.Cards, map[string]any{"what": title, "why": "crescer " + title})
	}
	return p
}

func TestFirstGenerationCreatesOriginalCards(t *testing.T) {
	r, _ := newReconciler(t)
	ctx := context.Background()

	out, err := r.Reconcile(ctx, "chat-1", marketingPlan("Post diario", "Anuncio"))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Created)
	assert.Equal(t, 1, out.PlanVersion)
	assert.Equal(t, plan.Hash(marketingPlan("Post diario", "Anuncio")), out.PlanHash)

	cards, err := r.Board(ctx, "chat-1", false)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	for _, c := range cards {
		assert.Equal(t, store.SourceOriginal, c.Source)
		assert.Equal(t, "5w2h", c.PlanType)
		assert.Equal(t, "marketing", c.PlanArea)
		assert.Equal(t, store.StatusTodo, c.Status)
		require.NotNil(t, c.DueAt)
		assert.True(t, c.DueAt.Equal(fixedNow.AddDate(0, 0, 7)))
	}
}

func TestReconcileIdenticalPlanWritesNothing(t *testing.T) {
	r, cs := newReconciler(t)
	ctx := context.Background()
	p := marketingPlan("Post diario", "Anuncio")

	_, err := r.Reconcile(ctx, "chat-1", p)
	require.NoError(t, err)
	before := cs.writes()

	out, err := r.Reconcile(ctx, "chat-1", p)
	require.NoError(t, err)
	assert.Equal(t, before, cs.writes())
	assert.Zero(t, out.Created+out.Updated+out.Deprecated)
	assert.Equal(t, 1, out.PlanVersion)
	assert.Len(t, out.Diff.Unchanged, 2)

	// Cosmetic differences in case and spacing are not changes either.
	p.Cards[0]["what"] = "  POST   Diario "
	out, err = r.Reconcile(ctx, "chat-1", p)
	require.NoError(t, err)
	assert.Equal(t, before, cs.writes())
	assert.False(t, out.Diff.Changed())
}

func TestRenamedCardIsReplacedNotDeleted(t *testing.T) {
	r, _ := newReconciler(t)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "chat-1", marketingPlan("Post diario", "Anuncio"))
	require.NoError(t, err)

	out, err := r.Reconcile(ctx, "chat-1", marketingPlan("Post diario", "Anuncio pago"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 1, out.Deprecated)
	assert.Equal(t, 2, out.PlanVersion)

	active, err := r.Board(ctx, "chat-1", false)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := r.Board(ctx, "chat-1", true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, c := range all {
		switch c.Title {
		case "Anuncio":
			assert.True(t, c.Deprecated)
			assert.Equal(t, 2, c.DeprecatedVersion)
		case "Anuncio pago":
			assert.Equal(t, store.SourceIncremental, c.Source)
			assert.Equal(t, 2, c.PlanVersion)
		}
	}
}

func TestModifiedDescriptionKeepsStatus(t *testing.T) {
	r, _ := newReconciler(t)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "chat-1", marketingPlan("Post diario"))
	require.NoError(t, err)
	cards, err := r.Board(ctx, "chat-1", false)
	require.NoError(t, err)
	card, err := r.SetStatus(ctx, "chat-1", cards[0].ID, "doing")
	require.NoError(t, err)
	assert.Equal(t, store.StatusDoing, card.Status)

	p := marketingPlan("Post diario")
	p.Cards[0]["why"] = "engajar seguidores"
	out, err := r.Reconcile(ctx, "chat-1", p)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Updated)
	assert.Equal(t, 2, out.PlanVersion)

	cards, err = r.Board(ctx, "chat-1", false)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "engajar seguidores", cards[0].Description)
	assert.Equal(t, store.StatusDoing, cards[0].Status)
	assert.Equal(t, 2, cards[0].PlanVersion)
}

func TestPlanVersionIsMonotonic(t *testing.T) {
	r, _ := newReconciler(t)
	ctx := context.Background()

	versions := []int{}
	for _, titles := range [][]string{{"a", "b"}, {"a"}, {"a"}, {"c"}, {"a", "b"}} {
		out, err := r.Reconcile(ctx, "chat-1", marketingPlan(titles...))
		require.NoError(t, err)
		versions = append(versions, out.PlanVersion)
	}
	// Removal-only generations still consume a version.
	assert.Equal(t, []int{1, 2, 2, 3, 4}, versions)

	all, err := r.Board(ctx, "chat-1", true)
	require.NoError(t, err)
	assert.Len(t, all, 5, "rows are never hard deleted")
}

func TestEmptyPlanLeavesBoardUntouched(t *testing.T) {
	r, cs := newReconciler(t)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "chat-1", marketingPlan("a", "b"))
	require.NoError(t, err)
	before := cs.writes()

	untitled := marketingPlan()
	untitled.Cards = []map[string]any{{"why": "sem titulo"}}
	for _, p := range []plan.Plan{marketingPlan(), untitled} {
		out, err := r.Reconcile(ctx, "chat-1", p)
		assert.ErrorIs(t, err, ErrEmptyPlan)
		assert.Zero(t, out.Deprecated)
	}
	assert.Equal(t, before, cs.writes())

	active, err := r.Board(ctx, "chat-1", false)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	out, err := r.Reconcile(ctx, "chat-1", marketingPlan("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.PlanVersion)
}

func TestHistoryOnlyLineageRestartsAsIncremental(t *testing.T) {
	r, cs := newReconciler(t)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "chat-1", marketingPlan("a"))
	require.NoError(t, err)
	cards, err := r.Board(ctx, "chat-1", false)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.NoError(t, cs.Store.DeprecateCards(ctx, []string{cards[0].ID}, 2))

	out, err := r.Reconcile(ctx, "chat-1", marketingPlan("a"))
	require.NoError(t, err)
	assert.Equal(t, 3, out.PlanVersion)

	cards, err = r.Board(ctx, "chat-1", false)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, store.SourceIncremental, cards[0].Source)
}

func TestLineagesAreIndependent(t *testing.T) {
	r, _ := newReconciler(t)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "chat-1", marketingPlan("a"))
	require.NoError(t, err)
	out, err := r.Reconcile(ctx, "chat-1", plan.Plan{Type: "5w2h", Area: "financeiro", Cards: []map[string]any{{"what": "b"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.PlanVersion)
	assert.Zero(t, out.Deprecated)

	out, err = r.Reconcile(ctx, "chat-2", marketingPlan("z"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.PlanVersion)

	cards, err := r.Board(ctx, "chat-1", false)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestBatchesFailIndependently(t *testing.T) {
	r, cs := newReconciler(t)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "chat-1", marketingPlan("a", "b"))
	require.NoError(t, err)

	boom := errors.New("disk full")
	cs.failInsert = boom

	p := marketingPlan("a", "c")
	p.Cards[0]["why"] = "nova razao"
	out, err := r.Reconcile(ctx, "chat-1", p)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, BatchInsert, out.Failures[0].Batch)
	assert.Zero(t, out.Created)
	assert.Equal(t, 1, out.Updated)
	assert.Equal(t, 1, out.Deprecated)

	cards, err := r.Board(ctx, "chat-1", false)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "nova razao", cards[0].Description)
}

func TestUnparseableDueFallsBack(t *testing.T) {
	r, _ := newReconciler(t)
	ctx := context.Background()

	p := marketingPlan("a", "b")
	p.Cards[0]["when"] = "quando der"
	p.Cards[1]["when"] = "+2w"
	_, err := r.Reconcile(ctx, "chat-1", p)
	require.NoError(t, err)

	cards, err := r.Board(ctx, "chat-1", false)
	require.NoError(t, err)
	due := map[string]time.Time{}
	for _, c := range cards {
		due[c.Title] = *c.DueAt
	}
	assert.True(t, due["a"].Equal(fixedNow.AddDate(0, 0, 7)))
	assert.True(t, due["b"].Equal(fixedNow.AddDate(0, 0, 14)))
}

func TestSetStatus(t *testing.T) {
	r, _ := newReconciler(t)
	ctx := context.Background()

	_, err := r.SetStatus(ctx, "chat-1", "whatever", "finished")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = r.SetStatus(ctx, "chat-1", "missing", "done")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = r.Reconcile(ctx, "chat-1", marketingPlan("a"))
	require.NoError(t, err)
	cards, err := r.Board(ctx, "chat-1", false)
	require.NoError(t, err)

	_, err = r.SetStatus(ctx, "chat-2", cards[0].ID, "done")
	assert.ErrorIs(t, err, store.ErrNotFound, "cards of other sessions are invisible")

	card, err := r.SetStatus(ctx, "chat-1", cards[0].ID, " DONE ")
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, card.Status)
}

func TestConcurrentReconcilesDoNotDuplicate(t *testing.T) {
	r, _ := newReconciler(t)
	ctx := context.Background()
	p := marketingPlan("a", "b", "c")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Reconcile(ctx, "chat-1", p)
		}()
	}
	wg.Wait()

	cards, err := r.Board(ctx, "chat-1", true)
	require.NoError(t, err)
	assert.Len(t, cards, 3)
}

func TestReconcileRequiresSession(t *testing.T) {
	r, _ := newReconciler(t)
	_, err := r.Reconcile(context.Background(), "", marketingPlan("a"))
	assert.Error(t, err)
}
