package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/itixo/durabletask/backend"
	"github.com/itixo/durabletask/backend/history"
	"github.com/itixo/durabletask/backend/test"
	"github.com/itixo/durabletask/core"
	"github.com/stretchr/testify/require"
)

func Test_InMemorySqliteBackend(t *testing.T) {
	test.HistoryStoreTest(t, func(options ...backend.BackendOption) test.TestBackend {
		return NewInMemoryBackend(WithBackendOptions(options...))
	}, func(b test.TestBackend) {
		require.NoError(t, b.Close())
	})
}

func Test_EndToEndSqliteBackend(t *testing.T) {
	test.EndToEndBackendTest(t, func(options ...backend.BackendOption) test.TestBackend {
		return NewInMemoryBackend(WithBackendOptions(options...))
	}, func(b test.TestBackend) {
		require.NoError(t, b.Close())
	})
}

func Test_FileSqliteBackend(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	test.HistoryStoreTest(t, func(options ...backend.BackendOption) test.TestBackend {
		return NewSqliteBackend(filepath.Join(t.TempDir(), uuid.NewString()+".sqlite"), WithBackendOptions(options...))
	}, func(b test.TestBackend) {
		require.NoError(t, b.Close())
	})
}

func Test_SqliteBackend_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durabletask.sqlite")
	ctx := context.Background()

	b := NewSqliteBackend(path)
	i := newInstance()
	require.NoError(t, b.CreateInstance(ctx, i))
	require.NoError(t, b.Append(ctx, i.InstanceID, started(1)))
	require.NoError(t, b.Close())

	// Migrations are idempotent
	b = NewSqliteBackend(path)
	defer b.Close()

	r, err := b.GetInstance(ctx, i.InstanceID)
	require.NoError(t, err)
	require.Equal(t, i.Name, r.Name)

	events, err := b.ReadAll(ctx, i.InstanceID)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func newInstance() *core.OrchestrationInstance {
	return core.NewOrchestrationInstance(uuid.NewString(), "LicenceOrchestration", []byte(`{"email":"a@example.com"}`), time.Now().UTC())
}

func started(sequenceID int64) *history.Event {
	return history.NewHistoryEvent(time.Now(), history.EventType_OrchestratorStarted,
		&history.OrchestratorStartedAttributes{Name: "LicenceOrchestration"}, history.SequenceID(sequenceID))
}
