package topology

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

func TestMeshRouteAndBroadcast(t *testing.T) {
	m := NewMesh()
	require.NoError(t, m.Connect("a1", nil))
	require.NoError(t, m.Connect("a2", nil))
	require.NoError(t, m.Connect("a3", nil))

	assert.True(t, m.Route("a1", "a2", types.Message{}))
	assert.False(t, m.Route("a1", "a1", types.Message{}), "no self-edge")
	assert.False(t, m.Route("a1", "unknown", types.Message{}))

	count := m.Broadcast("a1", types.Message{}, nil)
	assert.Equal(t, 2, count) // a2, a3 — never the sender

	neighbors := m.Neighbors("a1")
	assert.ElementsMatch(t, []string{"a2", "a3"}, neighbors)
}

func TestMeshUnknownNeighbors(t *testing.T) {
	m := NewMesh()
	assert.Nil(t, m.Neighbors("ghost"))
}

func TestStarRelaysSpokeToSpoke(t *testing.T) {
	s := NewStar("hub")
	require.NoError(t, s.Connect("spoke1", nil))
	require.NoError(t, s.Connect("spoke2", nil))

	assert.True(t, s.Route("spoke1", "spoke2", types.Message{}))
	assert.True(t, s.Route("hub", "spoke1", types.Message{}))
	assert.False(t, s.Route("spoke1", "spoke1", types.Message{}))

	assert.ElementsMatch(t, []string{"hub"}, s.Neighbors("spoke1"))
	assert.ElementsMatch(t, []string{"spoke1", "spoke2"}, s.Neighbors("hub"))
}

func TestStarBroadcastFromHubExcludesOnlySender(t *testing.T) {
	s := NewStar("hub")
	require.NoError(t, s.Connect("spoke1", nil))
	require.NoError(t, s.Connect("spoke2", nil))

	count := s.Broadcast("hub", types.Message{}, nil)
	assert.Equal(t, 2, count)
}

func TestRingDeliversForwardAndWrapsNeighbors(t *testing.T) {
	r := NewRing()
	require.NoError(t, r.Connect("a1", nil))
	require.NoError(t, r.Connect("a2", nil))
	require.NoError(t, r.Connect("a3", nil))

	assert.Equal(t, []string{"a2"}, r.Neighbors("a1"))
	assert.Equal(t, []string{"a3"}, r.Neighbors("a2"))
	assert.Equal(t, []string{"a1"}, r.Neighbors("a3")) // wraps

	assert.True(t, r.Route("a1", "a3", types.Message{}))
	assert.False(t, r.Route("a1", "a1", types.Message{}))
}

func TestRingBroadcastVisitsEveryoneButSender(t *testing.T) {
	r := NewRing()
	require.NoError(t, r.Connect("a1", nil))
	require.NoError(t, r.Connect("a2", nil))
	require.NoError(t, r.Connect("a3", nil))

	assert.Equal(t, 2, r.Broadcast("a1", types.Message{}, nil))
}

func TestHierarchicalRequiresParentAndLayer(t *testing.T) {
	h := NewHierarchical("root")
	require.NoError(t, h.Connect("root", nil))

	err := h.Connect("child", map[string]any{})
	require.Error(t, err)

	err = h.Connect("child", map[string]any{"parent_id": "root"})
	require.Error(t, err, "layer is also required")

	err = h.Connect("child", map[string]any{"parent_id": "root", "layer": 1})
	require.NoError(t, err)
}

func TestHierarchicalBroadcastFromRootReachesAllDescendants(t *testing.T) {
	h := NewHierarchical("root")
	require.NoError(t, h.Connect("root", nil))
	require.NoError(t, h.Connect("mid", map[string]any{"parent_id": "root", "layer": 1}))
	require.NoError(t, h.Connect("leaf", map[string]any{"parent_id": "mid", "layer": 2}))

	assert.Equal(t, 2, h.Broadcast("root", types.Message{}, nil))
	assert.Equal(t, 1, h.Broadcast("mid", types.Message{}, nil))
	assert.Equal(t, 0, h.Broadcast("leaf", types.Message{}, nil))
}

func TestHierarchicalNeighborsIncludesParentAndChildren(t *testing.T) {
	h := NewHierarchical("root")
	require.NoError(t, h.Connect("root", nil))
	require.NoError(t, h.Connect("mid", map[string]any{"parent_id": "root", "layer": 1}))
	require.NoError(t, h.Connect("leaf", map[string]any{"parent_id": "mid", "layer": 2}))

	assert.ElementsMatch(t, []string{"mid"}, h.Neighbors("root"))
	assert.ElementsMatch(t, []string{"root", "leaf"}, h.Neighbors("mid"))
}

func TestAdaptiveStartsMeshAndMigratesAtThresholds(t *testing.T) {
	a := NewAdaptive("")
	for i := 0; i < 4; i++ {
		require.NoError(t, a.Connect(idOf(i), nil))
	}
	assert.Equal(t, Mesh, a.InnerKind())

	require.NoError(t, a.Connect(idOf(4), nil)) // 5th agent crosses into Star
	assert.Equal(t, Star, a.InnerKind())

	for i := 5; i < 11; i++ {
		require.NoError(t, a.Connect(idOf(i), nil)) // 11th agent crosses into Hierarchical
	}
	assert.Equal(t, Hierarchical, a.InnerKind())
}

func TestAdaptivePreservesMetadataAcrossMigration(t *testing.T) {
	a := NewAdaptive("a0")
	for i := 0; i < 6; i++ {
		require.NoError(t, a.Connect(idOf(i), map[string]any{"type": idOf(i)}))
	}
	assert.Equal(t, Star, a.InnerKind())
	assert.ElementsMatch(t, []string{"a0", "a1", "a2", "a3", "a4", "a5"}, a.AgentIDs())
}

func idOf(i int) string {
	return "a" + strconv.Itoa(i)
}
