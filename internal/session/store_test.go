package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/internal/core"
)

// storeFactories lets every Store implementation run the same contract
// tests.
var storeFactories = map[string]func(t *testing.T) Store{
	"memory": func(t *testing.T) Store {
		return NewMemoryStore()
	},
	"sqlite": func(t *testing.T) Store {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
		require.NoError(t, err)
		return store
	},
}

func TestStoreAppendAndMessages(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			id := NewID()
			msgs := []core.Message{
				{Role: core.RoleUser, Content: "what is the weather in Paris?"},
				{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{
					{ID: "call_1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}},
				}},
				{Role: core.RoleToolResult, ToolCallID: "call_1", Name: "get_weather", Content: `{"temp": 18}`},
				{Role: core.RoleAssistant, Content: "It is 18 degrees in Paris."},
			}
			for _, msg := range msgs {
				require.NoError(t, store.Append(ctx, id, msg))
			}

			got, err := store.Messages(ctx, id)
			require.NoError(t, err)
			require.Len(t, got, len(msgs))
			for i := range msgs {
				assert.Equal(t, msgs[i].Role, got[i].Role)
				assert.Equal(t, msgs[i].Content, got[i].Content)
				assert.Equal(t, msgs[i].ToolCallID, got[i].ToolCallID)
			}
			assert.Equal(t, "get_weather", got[1].ToolCalls[0].Name)
		})
	}
}

func TestStoreMessagesUnknownSession(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()

			_, err := store.Messages(context.Background(), NewID())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			older := NewID()
			newer := NewID()
			require.NoError(t, store.Append(ctx, older, core.Message{Role: core.RoleUser, Content: "first"}))
			time.Sleep(5 * time.Millisecond)
			require.NoError(t, store.Append(ctx, newer, core.Message{Role: core.RoleUser, Content: "second"}))
			require.NoError(t, store.Append(ctx, newer, core.Message{Role: core.RoleAssistant, Content: "reply"}))

			infos, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, newer, infos[0].ID, "most recently updated first")
			assert.Equal(t, 2, infos[0].Messages)
			assert.Equal(t, older, infos[1].ID)
			assert.Equal(t, 1, infos[1].Messages)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			id := NewID()
			require.NoError(t, store.Append(ctx, id, core.Message{Role: core.RoleUser, Content: "hi"}))
			require.NoError(t, store.Delete(ctx, id))

			_, err := store.Messages(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, store.Delete(ctx, id), ErrNotFound)
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	id := NewID()
	require.NoError(t, store.Append(ctx, id, core.Message{Role: core.RoleUser, Content: "persisted"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	msgs, err := reopened.Messages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "persisted", msgs[0].Content)
}
