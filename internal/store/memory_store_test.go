package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/peace-chat/internal/domain"
)

func msg(id, from, to string, ts int64) domain.Message {
	return domain.Message{ID: id, User: from, To: to, Text: "text " + id, Timestamp: ts}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestMemoryStore_AppendDedupe(t *testing.T) {
	s := NewMemoryStore(10)

	stored, inserted := s.Append(msg("m1", "alice", "bob", 1))
	require.True(t, inserted)
	assert.Equal(t, "m1", stored.ID)

	again := msg("m1", "alice", "bob", 99)
	again.Text = "changed"
	stored, inserted = s.Append(again)
	assert.False(t, inserted)
	assert.Equal(t, "text m1", stored.Text, "held message is returned unchanged")
	assert.Equal(t, int64(1), stored.Timestamp)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_CapacityBound(t *testing.T) {
	const capacity = 5
	s := NewMemoryStore(capacity)

	for i := 1; i <= 12; i++ {
		s.Append(msg(fmt.Sprintf("m%d", i), "alice", "", int64(i)))
	}

	assert.Equal(t, capacity, s.Len())
	got := s.Query(Query{Viewer: "alice"})
	assert.Equal(t, []string{"m8", "m9", "m10", "m11", "m12"}, ids(got))

	_, ok := s.Get("m7")
	assert.False(t, ok, "evicted ids leave the index")
	_, ok = s.Get("m8")
	assert.True(t, ok)

	_, inserted := s.Append(msg("m1", "alice", "", 13))
	assert.True(t, inserted, "an evicted id can be stored again")
	assert.Equal(t, capacity, s.Len())
}

func TestMemoryStore_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewMemoryStore(0).Capacity())
}

func TestMemoryStore_PrivacyFilter(t *testing.T) {
	s := NewMemoryStore(100)
	s.Append(msg("ab", "alice", "bob", 1))
	s.Append(msg("ba", "bob", "alice", 2))
	s.Append(msg("bc", "bob", "carol", 3))
	s.Append(msg("ca", "carol", "alice", 4))
	s.Append(msg("a-all", "alice", "", 5))
	s.Append(msg("b-all", "bob", "", 6))

	t.Run("all parties of viewer", func(t *testing.T) {
		assert.Equal(t, []string{"ab", "ba", "ca", "a-all"}, ids(s.Query(Query{Viewer: "alice"})))
	})

	t.Run("viewer never sees others' conversations", func(t *testing.T) {
		for _, m := range s.Query(Query{Viewer: "carol"}) {
			assert.True(t, m.Involves("carol"), "carol got %s", m.ID)
		}
	})

	t.Run("strict 1:1 with counterpart", func(t *testing.T) {
		assert.Equal(t, []string{"ab", "ba"}, ids(s.Query(Query{Viewer: "alice", Counterpart: "bob"})))
		assert.Equal(t, []string{"ab", "ba"}, ids(s.Query(Query{Viewer: "BOB", Counterpart: "Alice"})))
	})

	t.Run("empty viewer", func(t *testing.T) {
		assert.Empty(t, s.Query(Query{}))
	})
}

func TestMemoryStore_ClearWatermark(t *testing.T) {
	s := NewMemoryStore(100)
	s.Append(msg("1", "alice", "bob", 100))
	s.Append(msg("2", "bob", "alice", 200))
	s.Append(msg("3", "alice", "bob", 300))

	assert.Equal(t, []string{"3"}, ids(s.Query(Query{Viewer: "alice", Counterpart: "bob", ClearedBefore: 200})))
	assert.Equal(t, []string{"1", "2", "3"}, ids(s.Query(Query{Viewer: "bob", Counterpart: "alice"})),
		"counterpart's view is unaffected")
	assert.Equal(t, 3, s.Len(), "clearing never deletes")
}
