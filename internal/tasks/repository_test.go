package tasks

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagetasks/internal/events"
	"stagetasks/internal/logging"
	"stagetasks/internal/models"
	"stagetasks/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newTestRepo(t *testing.T, kv store.KV) (*Repository, *store.Adapter) {
	t.Helper()
	if kv == nil {
		kv = store.NewMemoryStore()
	}
	adapter := store.NewAdapter(kv, "")
	repo, err := New(context.Background(), adapter, WithLogger(logging.Discard()))
	require.NoError(t, err)
	return repo, adapter
}

func persisted(t *testing.T, a *store.Adapter) []models.Task {
	t.Helper()
	res, err := a.Load(context.Background())
	require.NoError(t, err)
	return res.Tasks
}

func TestRepository_AddAssignsSequentialIDs(t *testing.T) {
	repo, adapter := newTestRepo(t, nil)
	ctx := context.Background()

	build, err := repo.Add(ctx, "Build site", []string{"Research", "Design"}, models.PriorityHigh)
	require.NoError(t, err)
	learn, err := repo.Add(ctx, "Learn X", nil, models.PriorityMedium)
	require.NoError(t, err)

	assert.Equal(t, int64(0), build.ID)
	assert.Equal(t, int64(1), learn.ID)
	assert.NotNil(t, learn.Stages)
	assert.Empty(t, learn.Stages)
	for _, s := range build.Stages {
		assert.False(t, s.Complete)
	}

	assert.Equal(t, repo.List(), persisted(t, adapter))
}

func TestRepository_IDsAreNotReusedAfterDelete(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	_, err := repo.Add(ctx, "Build site", []string{"Research"}, models.PriorityHigh)
	require.NoError(t, err)
	_, err = repo.Add(ctx, "Learn X", nil, models.PriorityMedium)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, 0))

	docs, err := repo.Add(ctx, "Write docs", []string{"Outline"}, models.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), docs.ID)

	// Deleting the newest task must not free its id either.
	require.NoError(t, repo.Delete(ctx, 2))
	next, err := repo.Add(ctx, "Again", nil, models.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.ID)

	ids := []int64{}
	for _, task := range repo.List() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestRepository_IDMarkSurvivesRestart(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()

	first, _ := newTestRepo(t, kv)
	_, err := first.Add(ctx, "a", nil, models.PriorityLow)
	require.NoError(t, err)
	_, err = first.Add(ctx, "b", nil, models.PriorityLow)
	require.NoError(t, err)
	require.NoError(t, first.Delete(ctx, 1))

	second, _ := newTestRepo(t, kv)
	task, err := second.Add(ctx, "c", nil, models.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), task.ID)
}

func TestRepository_NewLoadsPersistedTasks(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, store.DefaultKey, []byte(`[
		{"id":3,"title":"Build site","stages":[{"id":"s1","stage":"Research","complete":true}],"priority":"high"},
		{"id":7,"title":"Learn X","stages":[],"priority":"medium"}
	]`)))

	repo, _ := newTestRepo(t, kv)
	list := repo.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Build site", list[0].Title)
	assert.True(t, list[0].Stages[0].Complete)

	task, err := repo.Add(ctx, "Next", nil, models.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(8), task.ID)
}

func TestRepository_LegacyRecordsAreRewritten(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, store.DefaultKey,
		[]byte(`[{"id":0,"title":"Old","stage1":"one","stage2":"two","stage3":"","priority":"Low"}]`)))

	repo, adapter := newTestRepo(t, kv)
	require.Len(t, repo.List(), 1)
	assert.Equal(t, []string{"one", "two"}, repo.List()[0].Labels())

	raw, err := kv.Get(ctx, store.DefaultKey)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "stage1")
	assert.Equal(t, repo.List(), persisted(t, adapter))
}

func TestRepository_CorruptStoreStartsEmptyWithBackup(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, store.DefaultKey, []byte(`{broken`)))

	repo, adapter := newTestRepo(t, kv)
	assert.Empty(t, repo.List())

	backups := 0
	for _, key := range kv.Keys() {
		if strings.HasPrefix(key, "items:corrupt:") {
			backups++
			raw, err := kv.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, `{broken`, string(raw))
		}
	}
	assert.Equal(t, 1, backups)

	task, err := repo.Add(ctx, "a", nil, models.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), task.ID)
	assert.Equal(t, repo.List(), persisted(t, adapter))
}

func TestRepository_FailedWriteLeavesMemoryUnchanged(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()

	repo, _ := newTestRepo(t, kv)
	_, err := repo.Add(ctx, "a", []string{"one"}, models.PriorityLow)
	require.NoError(t, err)
	before := repo.List()

	// Another writer leaves an unreadable value behind.
	require.NoError(t, kv.Set(ctx, store.DefaultKey, []byte(`{broken`)))

	_, err = repo.Add(ctx, "b", nil, models.PriorityLow)
	require.ErrorIs(t, err, store.ErrCorrupt)
	require.Error(t, repo.Update(ctx, 0, "x", nil, models.PriorityHigh))
	require.Error(t, repo.Delete(ctx, 0))

	assert.Equal(t, before, repo.List())
}

func TestRepository_Update(t *testing.T) {
	repo, adapter := newTestRepo(t, nil)
	ctx := context.Background()

	task, err := repo.Add(ctx, "Build site", []string{"Research", "Design"}, models.PriorityHigh)
	require.NoError(t, err)
	research := task.Stages[0]
	_, err = repo.ToggleStage(ctx, task.ID, research.ID)
	require.NoError(t, err)

	other, err := repo.Add(ctx, "Learn X", []string{"Course", "Exercises"}, models.PriorityLow)
	require.NoError(t, err)
	_, err = repo.ToggleStage(ctx, other.ID, other.Stages[1].ID)
	require.NoError(t, err)
	otherBefore, err := repo.Get(other.ID)
	require.NoError(t, err)

	require.NoError(t, repo.Update(ctx, task.ID, "Build shop", []string{"Research", "Deploy"}, models.PriorityMedium))

	got, err := repo.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Build shop", got.Title)
	assert.Equal(t, models.PriorityMedium, got.Priority)
	assert.Equal(t, []string{"Research", "Deploy"}, got.Labels())

	assert.Equal(t, research.ID, got.Stages[0].ID, "matching label keeps its stage")
	assert.True(t, got.Stages[0].Complete)
	assert.False(t, got.Stages[1].Complete)

	otherAfter, err := repo.Get(other.ID)
	require.NoError(t, err)
	assert.Equal(t, otherBefore, otherAfter, "other tasks are untouched")
	assert.Equal(t, []int64{task.ID, other.ID}, []int64{repo.List()[0].ID, repo.List()[1].ID})

	assert.Equal(t, repo.List(), persisted(t, adapter))
}

func TestRepository_UpdateWithEmptyStages(t *testing.T) {
	repo, adapter := newTestRepo(t, nil)
	ctx := context.Background()

	task, err := repo.Add(ctx, "a", []string{"one"}, models.PriorityLow)
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, task.ID, "a", nil, models.PriorityLow))

	got, err := repo.Get(task.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Stages)
	assert.Empty(t, got.Stages)
	assert.Empty(t, persisted(t, adapter)[0].Stages)
}

func TestRepository_MissingTask(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	_, err := repo.Add(ctx, "a", []string{"s"}, models.PriorityLow)
	require.NoError(t, err)
	before := repo.List()

	require.ErrorIs(t, repo.Update(ctx, 42, "x", nil, models.PriorityLow), ErrTaskNotFound)
	require.ErrorIs(t, repo.Delete(ctx, 42), ErrTaskNotFound)
	_, err = repo.ToggleStage(ctx, 42, "s")
	require.ErrorIs(t, err, ErrTaskNotFound)
	_, err = repo.Get(42)
	require.ErrorIs(t, err, ErrTaskNotFound)
	require.ErrorIs(t, repo.SelectCurrent(42), ErrTaskNotFound)

	assert.Equal(t, before, repo.List())
}

func TestRepository_ToggleStage(t *testing.T) {
	repo, adapter := newTestRepo(t, nil)
	ctx := context.Background()

	task, err := repo.Add(ctx, "Build site", []string{"Research", "Design"}, models.PriorityHigh)
	require.NoError(t, err)
	before := repo.List()

	stage, err := repo.ToggleStage(ctx, task.ID, task.Stages[1].ID)
	require.NoError(t, err)
	assert.True(t, stage.Complete)

	got, _ := repo.Get(task.ID)
	assert.False(t, got.Stages[0].Complete, "other stages are untouched")
	assert.True(t, got.Stages[1].Complete)
	assert.Equal(t, repo.List(), persisted(t, adapter))

	_, err = repo.ToggleStage(ctx, task.ID, task.Stages[1].ID)
	require.NoError(t, err)
	assert.Equal(t, before, repo.List(), "toggling twice restores the task")

	_, err = repo.ToggleStage(ctx, task.ID, "nope")
	require.ErrorIs(t, err, ErrStageNotFound)
}

func TestRepository_ToggleStageByLabelPicksFirstMatch(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	task, err := repo.Add(ctx, "a", []string{"Review", "Review"}, models.PriorityLow)
	require.NoError(t, err)

	stage, err := repo.ToggleStageByLabel(ctx, task.ID, " Review ")
	require.NoError(t, err)
	assert.Equal(t, task.Stages[0].ID, stage.ID)

	got, _ := repo.Get(task.ID)
	assert.True(t, got.Stages[0].Complete)
	assert.False(t, got.Stages[1].Complete)

	_, err = repo.ToggleStageByLabel(ctx, task.ID, "Other")
	require.ErrorIs(t, err, ErrStageNotFound)
}

func TestRepository_Selection(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	_, ok := repo.Current()
	assert.False(t, ok)

	a, err := repo.Add(ctx, "a", nil, models.PriorityLow)
	require.NoError(t, err)
	b, err := repo.Add(ctx, "b", nil, models.PriorityLow)
	require.NoError(t, err)

	require.NoError(t, repo.SelectCurrent(b.ID))
	cur, ok := repo.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.Title)

	require.Error(t, repo.SelectCurrent(99))
	cur, _ = repo.Current()
	assert.Equal(t, b.ID, cur.ID, "failed selection leaves current alone")

	require.NoError(t, repo.Delete(ctx, a.ID))
	_, ok = repo.Current()
	assert.True(t, ok, "deleting another task keeps the selection")

	require.NoError(t, repo.Delete(ctx, b.ID))
	_, ok = repo.Current()
	assert.False(t, ok, "deleting the selected task clears it")

	c, err := repo.Add(ctx, "c", nil, models.PriorityLow)
	require.NoError(t, err)
	require.NoError(t, repo.SelectCurrent(c.ID))
	repo.ClearCurrent()
	_, ok = repo.Current()
	assert.False(t, ok)
}

func TestRepository_ListReturnsCopies(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	ctx := context.Background()

	_, err := repo.Add(ctx, "a", []string{"one"}, models.PriorityLow)
	require.NoError(t, err)

	list := repo.List()
	list[0].Title = "changed"
	list[0].Stages[0].Complete = true

	again := repo.List()
	assert.Equal(t, "a", again[0].Title)
	assert.False(t, again[0].Stages[0].Complete)
}

func TestRepository_ReloadPicksUpOtherWriters(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()

	mine, _ := newTestRepo(t, kv)
	theirs, _ := newTestRepo(t, kv)

	_, err := theirs.Add(ctx, "from elsewhere", nil, models.PriorityLow)
	require.NoError(t, err)
	assert.Empty(t, mine.List())

	require.NoError(t, mine.Reload(ctx))
	require.Len(t, mine.List(), 1)
	assert.Equal(t, "from elsewhere", mine.List()[0].Title)
}

func TestRepository_AddRetriesWhenIDTakenElsewhere(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()

	mine, _ := newTestRepo(t, kv)
	theirs, _ := newTestRepo(t, kv)

	_, err := theirs.Add(ctx, "theirs", nil, models.PriorityLow)
	require.NoError(t, err)

	task, err := mine.Add(ctx, "mine", nil, models.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), task.ID)

	titles := []string{}
	for _, task := range mine.List() {
		titles = append(titles, task.Title)
	}
	assert.Equal(t, []string{"theirs", "mine"}, titles)
}

func TestRepository_IDDeletedByOtherWriterIsNotReused(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()

	server, adapter := newTestRepo(t, kv)
	cli, _ := newTestRepo(t, kv)

	first, err := server.Add(ctx, "server", nil, models.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.ID)

	other, err := cli.Add(ctx, "cli", nil, models.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.ID)
	require.NoError(t, cli.Delete(ctx, other.ID))

	task, err := server.Add(ctx, "server again", nil, models.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), task.ID)

	ids := []int64{}
	for _, task := range persisted(t, adapter) {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []int64{0, 2}, ids)
}

func TestRepository_StaleTaskIsReloaded(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()

	mine, _ := newTestRepo(t, kv)
	task, err := mine.Add(ctx, "a", []string{"one"}, models.PriorityLow)
	require.NoError(t, err)

	theirs, _ := newTestRepo(t, kv)
	require.NoError(t, theirs.Delete(ctx, task.ID))

	_, err = mine.ToggleStage(ctx, task.ID, task.Stages[0].ID)
	require.ErrorIs(t, err, ErrTaskNotFound)
	assert.Empty(t, mine.List())
}

func TestRepository_PublishesEvents(t *testing.T) {
	rec := &recorder{}
	kv := store.NewMemoryStore()
	adapter := store.NewAdapter(kv, "")
	repo, err := New(context.Background(), adapter, WithLogger(logging.Discard()), WithPublisher(rec))
	require.NoError(t, err)
	ctx := context.Background()

	task, err := repo.Add(ctx, "a", []string{"one"}, models.PriorityLow)
	require.NoError(t, err)
	_, err = repo.ToggleStage(ctx, task.ID, task.Stages[0].ID)
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, task.ID, "b", nil, models.PriorityLow))

	// Nothing changed in the store since our own writes.
	require.NoError(t, repo.Reload(ctx))

	other, _ := newTestRepo(t, kv)
	_, err = other.Add(ctx, "from elsewhere", nil, models.PriorityLow)
	require.NoError(t, err)
	require.NoError(t, repo.Reload(ctx))
	require.NoError(t, repo.Delete(ctx, task.ID))

	// Failed operations publish nothing.
	require.Error(t, repo.Delete(ctx, task.ID))

	assert.Equal(t, []events.Type{
		events.TaskAdded,
		events.StageToggled,
		events.TaskUpdated,
		events.Reloaded,
		events.TaskDeleted,
	}, rec.types())
	assert.Equal(t, task.Stages[0].ID, rec.events[1].StageID)
}

// stalled blocks every Publish until release is closed.
type stalled struct {
	entered chan struct{}
	release chan struct{}
}

func (s *stalled) Publish(_ context.Context, _ events.Event) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestRepository_SlowPublisherDoesNotBlockOperations(t *testing.T) {
	pub := &stalled{entered: make(chan struct{}, 1), release: make(chan struct{})}
	repo, err := New(context.Background(), store.NewAdapter(store.NewMemoryStore(), ""),
		WithLogger(logging.Discard()), WithPublisher(pub))
	require.NoError(t, err)
	ctx := context.Background()

	added := make(chan error, 1)
	go func() {
		_, err := repo.Add(ctx, "a", nil, models.PriorityLow)
		added <- err
	}()
	<-pub.entered

	listed := make(chan []models.Task, 1)
	go func() { listed <- repo.List() }()

	select {
	case list := <-listed:
		require.Len(t, list, 1)
		assert.Equal(t, "a", list[0].Title)
	case <-time.After(2 * time.Second):
		t.Fatal("List blocked while an event was being published")
	}

	close(pub.release)
	require.NoError(t, <-added)
}

func TestRepository_ConcurrentAddsGetDistinctIDs(t *testing.T) {
	repo, adapter := newTestRepo(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Add(ctx, "t", nil, models.PriorityLow)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, task := range repo.List() {
		assert.False(t, seen[task.ID], "duplicate id %d", task.ID)
		seen[task.ID] = true
	}
	assert.Len(t, seen, 25)
	assert.Equal(t, repo.List(), persisted(t, adapter))
}

func TestMergeStages(t *testing.T) {
	existing := []models.Stage{
		{ID: "a", Label: "Research", Complete: true},
		{ID: "b", Label: "Design", Complete: true},
		{ID: "c", Label: "Research"},
	}

	got := mergeStages(existing, []string{"Design", "Research", "Research", "Research", "Ship"})
	require.Len(t, got, 5)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, "c", got[2].ID)
	assert.NotContains(t, []string{"a", "b", "c"}, got[3].ID)
	assert.False(t, got[3].Complete)
	assert.Equal(t, "Ship", got[4].Label)

	assert.NotNil(t, mergeStages(existing, nil))
}
