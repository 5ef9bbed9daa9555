package registry

import (
	"sync"
	"testing"

	"github.com/danmuck/ntclient/internal/protocol"
	"github.com/danmuck/ntclient/internal/protocol/schema"
	"github.com/danmuck/ntclient/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientTopicLifecycle(t *testing.T) {
	testlog.Start(t)
	r := NewTopics()
	ct, err := r.AddClientTopic("TestTopic", schema.KindInt, map[string]any{"persistent": true, "drop": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ct.PubUID)
	assert.Equal(t, map[string]any{"persistent": true}, ct.Properties)

	_, err = r.AddClientTopic("TestTopic", schema.KindDouble, nil)
	assert.ErrorIs(t, err, protocol.ErrDuplicateTopic)
	_, err = r.AddClientTopic(" ", schema.KindDouble, nil)
	assert.ErrorIs(t, err, protocol.ErrInvalidArgument)
	_, err = r.AddClientTopic("/bad", schema.Kind(99), nil)
	assert.ErrorIs(t, err, protocol.ErrUnknownType)

	got, ok := r.FindClientTopicByPubUID(ct.PubUID)
	require.True(t, ok)
	assert.Equal(t, "TestTopic", got.Name)

	removed, err := r.RemoveClientTopicByName("TestTopic")
	require.NoError(t, err)
	assert.Equal(t, ct.PubUID, removed.PubUID)
	_, ok = r.FindClientTopicByName("TestTopic")
	assert.False(t, ok)
	_, err = r.RemoveClientTopicByName("TestTopic")
	assert.ErrorIs(t, err, protocol.ErrUnknownReference)

	next, err := r.AddClientTopic("TestTopic", schema.KindInt, nil)
	require.NoError(t, err)
	assert.Greater(t, next.PubUID, ct.PubUID)
}

func TestClientTopicSnapshotIsolated(t *testing.T) {
	testlog.Start(t)
	r := NewTopics()
	ct, err := r.AddClientTopic("/x", schema.KindString, map[string]any{"a": 1})
	require.NoError(t, err)
	ct.Properties["a"] = 2
	got, _ := r.FindClientTopicByName("/x")
	assert.Equal(t, 1, got.Properties["a"])
}

func TestServerTopicValueRouting(t *testing.T) {
	testlog.Start(t)
	r := NewTopics()
	r.AddOrReplaceServerTopic(ServerTopic{ID: 7, Name: "TestTopic", Type: "int", Kind: schema.KindInt})
	r.AddOrReplaceServerTopic(ServerTopic{ID: 8, Name: "Other", Type: "int", Kind: schema.KindInt})

	_, ok := r.CurrentValue("TestTopic")
	assert.False(t, ok)

	require.NoError(t, r.SetServerValue(7, 1000000, schema.Int(42)))
	v, ok := r.CurrentValue("TestTopic")
	require.True(t, ok)
	n, _ := v.AsInt()
	assert.Equal(t, int64(42), n)

	_, ok = r.CurrentValue("Other")
	assert.False(t, ok)

	err := r.SetServerValue(99, 0, schema.Int(1))
	assert.ErrorIs(t, err, protocol.ErrUnknownReference)
}

func TestServerTopicReplaceByIDAndName(t *testing.T) {
	testlog.Start(t)
	r := NewTopics()
	r.AddOrReplaceServerTopic(ServerTopic{ID: 1, Name: "/a", Kind: schema.KindInt})
	require.NoError(t, r.SetServerValue(1, 0, schema.Int(5)))

	r.AddOrReplaceServerTopic(ServerTopic{ID: 1, Name: "/b", Kind: schema.KindDouble})
	_, ok := r.FindServerTopicByName("/a")
	assert.False(t, ok)
	got, ok := r.FindServerTopicByID(1)
	require.True(t, ok)
	assert.Equal(t, "/b", got.Name)
	assert.True(t, got.Value.IsZero())

	r.AddOrReplaceServerTopic(ServerTopic{ID: 2, Name: "/b", Kind: schema.KindDouble})
	_, ok = r.FindServerTopicByID(1)
	assert.False(t, ok)
	assert.Len(t, r.ServerTopics(), 1)
}

func TestAnnounceLinksClientTopic(t *testing.T) {
	testlog.Start(t)
	r := NewTopics()
	ct, err := r.AddClientTopic("/mine", schema.KindDouble, nil)
	require.NoError(t, err)

	require.True(t, r.AddOrReplaceServerTopic(ServerTopic{ID: 12, Name: "/mine", Kind: schema.KindDouble, PubUID: ct.PubUID, HasPubUID: true}))
	linked, ok := r.FindClientTopicByPubUID(ct.PubUID)
	require.True(t, ok)
	assert.Equal(t, int64(12), linked.ServerID)
	assert.True(t, linked.Announced)

	_, err = r.RemoveServerTopicByName("/mine")
	require.NoError(t, err)
	got, _ := r.FindClientTopicByName("/mine")
	assert.False(t, got.Announced)

	_, err = r.RemoveServerTopicByName("/mine")
	assert.ErrorIs(t, err, protocol.ErrUnknownReference)

	assert.False(t, r.AddOrReplaceServerTopic(ServerTopic{ID: 13, Name: "/theirs", PubUID: 999, HasPubUID: true}))
}

func TestApplyPropertiesDeletesNulls(t *testing.T) {
	testlog.Start(t)
	r := NewTopics()
	r.AddOrReplaceServerTopic(ServerTopic{ID: 1, Name: "/a", Properties: map[string]any{"persistent": true, "retained": true}})
	_, err := r.AddClientTopic("/a", schema.KindInt, map[string]any{"retained": true})
	require.NoError(t, err)

	assert.True(t, r.ApplyServerProperties("/a", map[string]any{"retained": nil, "cached": false}))
	assert.True(t, r.ApplyClientProperties("/a", map[string]any{"retained": nil}))
	assert.False(t, r.ApplyServerProperties("/missing", map[string]any{"x": 1}))
	assert.False(t, r.ApplyClientProperties("/missing", map[string]any{"x": 1}))

	st, _ := r.FindServerTopicByName("/a")
	assert.Equal(t, map[string]any{"persistent": true, "cached": false}, st.Properties)
	ct, _ := r.FindClientTopicByName("/a")
	assert.Empty(t, ct.Properties)
}

func TestClearServerTopicsUnlinks(t *testing.T) {
	testlog.Start(t)
	r := NewTopics()
	ct, _ := r.AddClientTopic("/mine", schema.KindInt, nil)
	r.AddOrReplaceServerTopic(ServerTopic{ID: 3, Name: "/mine", PubUID: ct.PubUID, HasPubUID: true})
	r.AddOrReplaceServerTopic(ServerTopic{ID: 4, Name: "/other"})

	assert.Equal(t, 2, r.ClearServerTopics())
	assert.Empty(t, r.ServerTopics())
	got, ok := r.FindClientTopicByName("/mine")
	require.True(t, ok)
	assert.False(t, got.Announced)
	assert.Len(t, r.ClientTopics(), 1)
}

func TestTopicsConcurrentAccess(t *testing.T) {
	testlog.Start(t)
	r := NewTopics()
	r.AddOrReplaceServerTopic(ServerTopic{ID: 1, Name: "/a", Kind: schema.KindInt})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 500; i++ {
			_ = r.SetServerValue(1, i, schema.Int(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			r.CurrentValue("/a")
			r.ServerTopics()
		}
	}()
	wg.Wait()

	v, ok := r.CurrentValue("/a")
	require.True(t, ok)
	n, _ := v.AsInt()
	assert.Equal(t, int64(499), n)
}
