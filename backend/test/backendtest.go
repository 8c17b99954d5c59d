package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/core"
	"github.com/itixo/durabletask/internal/workflowerrors"
	"github.com/stretchr/testify/require"
)

// HistoryStoreTest runs the conformance suite every backend has to pass.
func HistoryStoreTest(t *testing.T, setup func(options ...backend.BackendOption) TestBackend, teardown func(b TestBackend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b TestBackend)
	}{
		{
			name: "CreateInstance_DoesNotError",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				err := b.CreateInstance(ctx, newInstance())
				require.NoError(t, err)
			},
		},
		{
			name: "CreateInstance_SameInstanceIDErrors",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				i := newInstance()

				require.NoError(t, b.CreateInstance(ctx, i))
				require.ErrorIs(t, b.CreateInstance(ctx, i), backend.ErrInstanceAlreadyExists)
			},
		},
		{
			name: "GetInstance_ReturnsRecord",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				i := newInstance()
				i.Input = []byte(`{"email":"a@example.com"}`)
				require.NoError(t, b.CreateInstance(ctx, i))

				r, err := b.GetInstance(ctx, i.InstanceID)
				require.NoError(t, err)
				require.Equal(t, i.InstanceID, r.InstanceID)
				require.Equal(t, i.Name, r.Name)
				require.JSONEq(t, string(i.Input), string(r.Input))
				require.WithinDuration(t, i.CreatedAt, r.CreatedAt, time.Second)
			},
		},
		{
			name: "GetInstance_UnknownInstance",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				_, err := b.GetInstance(ctx, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrInstanceNotFound)
			},
		},
		{
			name: "ListInstances_ContainsCreated",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				i1 := newInstance()
				i2 := newInstance()
				require.NoError(t, b.CreateInstance(ctx, i1))
				require.NoError(t, b.CreateInstance(ctx, i2))

				instances, err := b.ListInstances(ctx)
				require.NoError(t, err)

				ids := make(map[string]bool)
				for _, i := range instances {
					ids[i.InstanceID] = true
				}

				require.True(t, ids[i1.InstanceID])
				require.True(t, ids[i2.InstanceID])
			},
		},
		{
			name: "ReadAll_UnknownInstanceIsEmpty",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				events, err := b.ReadAll(ctx, uuid.NewString())
				require.NoError(t, err)
				require.Empty(t, events)
			},
		},
		{
			name: "Append_ReadAll_RoundTrip",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				id := uuid.NewString()

				events := []*history.Event{
					started(1),
					history.NewHistoryEvent(time.Now(), history.EventType_TaskScheduled,
						&history.TaskScheduledAttributes{Name: "GenerateOrder", Input: []byte(`"x"`), Attempt: 1},
						history.TaskID(1), history.SequenceID(2)),
				}
				require.NoError(t, b.Append(ctx, id, events...))

				require.NoError(t, b.Append(ctx, id,
					history.NewHistoryEvent(time.Now(), history.EventType_TaskFailed,
						&history.TaskFailedAttributes{Error: workflowerrors.FromError(errors.New("boom"))},
						history.TaskID(1), history.SequenceID(3))))

				r, err := b.ReadAll(ctx, id)
				require.NoError(t, err)
				require.Len(t, r, 3)

				for i, e := range r {
					require.Equal(t, int64(i+1), e.SequenceID)
				}

				require.Equal(t, events[1].ID, r[1].ID)
				require.Equal(t, history.EventType_TaskScheduled, r[1].Type)
				require.Equal(t, int64(1), r[1].TaskID)

				a := r[1].Attributes.(*history.TaskScheduledAttributes)
				require.Equal(t, "GenerateOrder", a.Name)
				require.Equal(t, 1, a.Attempt)

				fa := r[2].Attributes.(*history.TaskFailedAttributes)
				require.Equal(t, "boom", fa.Error.Message)
			},
		},
		{
			name: "Append_FirstEventMustHaveSequenceOne",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				err := b.Append(ctx, uuid.NewString(), started(2))

				var scErr *backend.SequenceConflictError
				require.ErrorAs(t, err, &scErr)
				require.Equal(t, int64(1), scErr.Expected)
				require.Equal(t, int64(2), scErr.Actual)
			},
		},
		{
			name: "Append_StaleSequenceConflicts",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				id := uuid.NewString()
				require.NoError(t, b.Append(ctx, id, started(1)))

				err := b.Append(ctx, id, completed(1, 1))

				var scErr *backend.SequenceConflictError
				require.ErrorAs(t, err, &scErr)
				require.Equal(t, int64(2), scErr.Expected)

				// The failed append left no trace
				r, err := b.ReadAll(ctx, id)
				require.NoError(t, err)
				require.Len(t, r, 1)
			},
		},
		{
			name: "Append_GapInBatchConflicts",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				id := uuid.NewString()

				err := b.Append(ctx, id, started(1), completed(1, 3))

				var scErr *backend.SequenceConflictError
				require.ErrorAs(t, err, &scErr)

				r, err := b.ReadAll(ctx, id)
				require.NoError(t, err)
				require.Empty(t, r)
			},
		},
		{
			name: "Append_AfterCompletionFails",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				id := uuid.NewString()
				require.NoError(t, b.Append(ctx, id, started(1)))
				require.NoError(t, b.Append(ctx, id, history.NewHistoryEvent(time.Now(), history.EventType_OrchestratorCompleted,
					&history.OrchestratorCompletedAttributes{Status: core.InstanceStatusCompleted}, history.SequenceID(2))))

				err := b.Append(ctx, id, completed(1, 3))
				require.ErrorIs(t, err, backend.ErrInstanceFinished)
			},
		},
		{
			name: "Append_ConcurrentAppendsOnlyOneWins",
			f: func(t *testing.T, ctx context.Context, b TestBackend) {
				id := uuid.NewString()
				require.NoError(t, b.Append(ctx, id, started(1)))

				const writers = 5

				var wg sync.WaitGroup
				errs := make([]error, writers)
				for w := 0; w < writers; w++ {
					wg.Add(1)
					go func(w int) {
						defer wg.Done()
						errs[w] = b.Append(ctx, id, completed(int64(w+1), 2))
					}(w)
				}
				wg.Wait()

				succeeded := 0
				for _, err := range errs {
					if err == nil {
						succeeded++
						continue
					}

					var scErr *backend.SequenceConflictError
					require.ErrorAs(t, err, &scErr)
				}
				require.Equal(t, 1, succeeded)

				r, err := b.ReadAll(ctx, id)
				require.NoError(t, err)
				require.Len(t, r, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup()
			ctx := context.Background()

			tt.f(t, ctx, b)

			if teardown != nil {
				teardown(b)
			}
		})
	}
}

func newInstance() *core.OrchestrationInstance {
	return core.NewOrchestrationInstance(uuid.NewString(), "LicenceOrchestration", nil, time.Now().UTC())
}

func started(sequenceID int64) *history.Event {
	return history.NewHistoryEvent(time.Now(), history.EventType_OrchestratorStarted,
		&history.OrchestratorStartedAttributes{Name: "LicenceOrchestration"}, history.SequenceID(sequenceID))
}

func completed(taskID, sequenceID int64) *history.Event {
	return history.NewHistoryEvent(time.Now(), history.EventType_TaskCompleted,
		&history.TaskCompletedAttributes{Result: []byte("42")}, history.TaskID(taskID), history.SequenceID(sequenceID))
}
