package interaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/ingest"
	"github.com/kalambet/oracle/internal/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRecord_PersistsAndQueuesEmbedding(t *testing.T) {
	st := openStore(t)
	l := NewLogger(st)
	ctx := context.Background()

	id := l.Record(ctx, Entry{
		ActorID:         "u1",
		SubjectID:       "team-a",
		Query:           "need a designer",
		Response:        `{"suggestions":[],"actions":[]}`,
		ModelUsed:       "llama3.2",
		Confidence:      0.7,
		EvidenceCount:   2,
		SimilarityScore: 0.6,
		ProcessingTime:  1500 * time.Millisecond,
	})
	require.NotEmpty(t, id)

	row, err := st.GetInteractionLog(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", row.Status)
	assert.Equal(t, int64(1500), row.ProcessingMS)
	assert.Equal(t, "llama3.2", row.ModelUsed)
	assert.Equal(t, 2, row.EvidenceCount)

	n, err := st.CountPendingJobs(ctx, []string{ingest.JobEmbedInteraction})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecord_FailedEntryNotQueued(t *testing.T) {
	st := openStore(t)
	l := NewLogger(st)
	ctx := context.Background()

	id := l.Record(ctx, Entry{ActorID: "u1", Query: "q", Err: context.DeadlineExceeded})
	require.NotEmpty(t, id)

	row, err := st.GetInteractionLog(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "failed", row.Status)
	assert.Contains(t, row.Error, "deadline exceeded")

	n, err := st.CountPendingJobs(ctx, []string{ingest.JobEmbedInteraction})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecord_QueueBound(t *testing.T) {
	st := openStore(t)
	l := NewLogger(st, WithMaxPending(2))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		assert.NotEmpty(t, l.Record(ctx, Entry{Query: "q", Response: "{}"}))
	}
	n, err := st.CountPendingJobs(ctx, []string{ingest.JobEmbedInteraction})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

type brokenStore struct {
	*storage.Store
}

func (brokenStore) SaveInteractionLog(context.Context, storage.InteractionLog) error {
	return errors.New("database is locked")
}

func TestRecord_SwallowsStoreFailure(t *testing.T) {
	l := NewLogger(brokenStore{openStore(t)})

	var id string
	assert.NotPanics(t, func() {
		id = l.Record(context.Background(), Entry{Query: "q"})
	})
	assert.Empty(t, id)
}

func TestFeedback(t *testing.T) {
	st := openStore(t)
	l := NewLogger(st)
	ctx := context.Background()

	id := l.Record(ctx, Entry{Query: "q", Response: "{}"})
	require.NotEmpty(t, id)

	helpful := true
	require.NoError(t, l.Feedback(ctx, id, 5, &helpful))

	row, err := l.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, row.Satisfaction)
	assert.Equal(t, 5, *row.Satisfaction)
	require.NotNil(t, row.Helpful)
	assert.True(t, *row.Helpful)
	assert.NotNil(t, row.FeedbackAt)
}

func TestFeedback_Errors(t *testing.T) {
	l := NewLogger(openStore(t))
	ctx := context.Background()

	err := l.Feedback(ctx, "x", 0, nil)
	assert.True(t, errs.Is(err, errs.KindValidation))

	err = l.Feedback(ctx, "x", 6, nil)
	assert.True(t, errs.Is(err, errs.KindValidation))

	err = l.Feedback(ctx, "", 3, nil)
	assert.True(t, errs.Is(err, errs.KindValidation))

	err = l.Feedback(ctx, "missing", 3, nil)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = l.Get(ctx, "missing")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
