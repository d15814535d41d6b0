package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/zap"
)

func TestEmitter_DeliversToTypedAndWildcard(t *testing.T) {
	e := NewEmitter(zap.NewNop())

	var typed, all []Type
	e.Subscribe(TreeWatered, func(ev Event) { typed = append(typed, ev.Type) })
	e.SubscribeAll(func(ev Event) { all = append(all, ev.Type) })

	e.Emit(New(TreeClaimed, "1", time.Now(), nil))
	e.Emit(New(TreeWatered, "1", time.Now(), nil))

	assert.Equal(t, []Type{TreeWatered}, typed)
	assert.Equal(t, []Type{TreeClaimed, TreeWatered}, all)
}

func TestEmitter_RecoversFromPanickingHandler(t *testing.T) {
	e := NewEmitter(nil)

	called := false
	e.SubscribeAll(func(Event) { panic("boom") })
	e.SubscribeAll(func(Event) { called = true })

	require.NotPanics(t, func() { e.Emit(New(Paused, "op", time.Now(), nil)) })
	assert.True(t, called)
}

func TestEmitter_NilIsNoop(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() { e.Emit(New(Paused, "op", time.Now(), nil)) })
}

func TestNew_AssignsUniqueIDs(t *testing.T) {
	a := New(TreeClaimed, "1", time.Now(), nil)
	b := New(TreeClaimed, "1", time.Now(), nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func newMemJournal(t *testing.T) (*Journal, *leveldb.DB) {
	t.Helper()

	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)

	j, err := NewJournal(db)
	require.NoError(t, err)
	return j, db
}

func TestJournal_AppendAndSince(t *testing.T) {
	j, _ := newMemJournal(t)
	defer j.Close()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seq, err := j.Append(New(RealAssetPurchased, "7", at, map[string]any{"purchase_id": i + 1}))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq)
	}

	evs, err := j.Since(0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 5)
	assert.Equal(t, uint64(1), evs[0].Seq)
	assert.Equal(t, RealAssetPurchased, evs[0].Type)
	assert.True(t, at.Equal(evs[0].Timestamp))
	assert.Equal(t, float64(1), evs[0].Data["purchase_id"])

	evs, err = j.Since(2, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[1].Seq)

	evs, err = j.Since(5, 10)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestJournal_ResumesSequence(t *testing.T) {
	j, db := newMemJournal(t)

	_, err := j.Append(New(TreeClaimed, "1", time.Now(), nil))
	require.NoError(t, err)
	_, err = j.Append(New(TreeClaimed, "2", time.Now(), nil))
	require.NoError(t, err)

	reopened, err := NewJournal(db)
	require.NoError(t, err)

	seq, err := reopened.Append(New(TreeClaimed, "3", time.Now(), nil))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestJournal_HandlerAppends(t *testing.T) {
	j, _ := newMemJournal(t)
	defer j.Close()

	e := NewEmitter(zap.NewNop())
	e.SubscribeAll(j.Handler(zap.NewNop()))
	e.Emit(New(FundsSwept, "op", time.Now(), map[string]any{"amount": 5}))

	evs, err := j.Since(0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, FundsSwept, evs[0].Type)
}
