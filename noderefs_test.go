package binder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertOrUpdateHandleCreatesOnce(t *testing.T) {
	proc, _ := NewTestProcess(1)
	owner, _ := NewTestProcess(2)
	n := NewNode(owner, 0x1000, 0)

	refs := NewProcessNodeRefs(FirstOrdinaryHandle)

	h1, created1, needsPush1, _ := refs.InsertOrUpdateHandle(n, true, proc)
	require.True(t, created1, "expected first insert to create a new handle")
	require.Equal(t, uint32(FirstOrdinaryHandle), h1)
	require.True(t, needsPush1, "expected the first strong acquire to push a 0->1 acquire to the owner")

	h2, created2, needsPush2, _ := refs.InsertOrUpdateHandle(n, true, proc)
	require.False(t, created2, "expected second insert for the same node to reuse the handle")
	require.Equal(t, h1, h2)
	require.False(t, needsPush2, "expected the second strong acquire to be a no-op push since the node already has a strong ref")

	info, ok := refs.GetFromHandle(h1)
	require.True(t, ok, "expected handle to be resolvable")
	require.Equal(t, 2, info.StrongCount, "expected strong count 2 after two strong acquires")
}

func TestGetFromNode(t *testing.T) {
	proc, _ := NewTestProcess(1)
	owner, _ := NewTestProcess(2)
	n := NewNode(owner, 0x2000, 0)
	refs := NewProcessNodeRefs(FirstOrdinaryHandle)

	_, _, ok := refs.GetFromNode(n)
	require.False(t, ok, "expected no entry before any insert")

	h, _, _, _ := refs.InsertOrUpdateHandle(n, true, proc)
	info, handle, ok := refs.GetFromNode(n)
	require.True(t, ok)
	require.Equal(t, h, handle)
	require.Equal(t, n, info.Node)
}

func TestUpdateRefRemovesOnZero(t *testing.T) {
	proc, _ := NewTestProcess(1)
	owner, _ := NewTestProcess(2)
	n := NewNode(owner, 0x3000, 0)
	refs := NewProcessNodeRefs(FirstOrdinaryHandle)

	h, _, _, _ := refs.InsertOrUpdateHandle(n, true, proc)

	info, removed, err := refs.UpdateRef(h, true, false)
	require.NoError(t, err)
	require.True(t, removed, "expected the only strong ref to be removed when decremented to zero")
	require.False(t, info.HasRef())

	_, ok := refs.GetFromHandle(h)
	require.False(t, ok, "expected handle to be gone from the table after removal")
	require.True(t, n.HasNoRefs(), "expected the node itself to report no refs left")
}

func TestUpdateRefUnknownHandle(t *testing.T) {
	refs := NewProcessNodeRefs(FirstOrdinaryHandle)
	_, _, err := refs.UpdateRef(999, true, true)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeInvalidArgument))
}

func TestProcessNodeRefsEachAndLen(t *testing.T) {
	proc, _ := NewTestProcess(1)
	owner, _ := NewTestProcess(2)
	refs := NewProcessNodeRefs(FirstOrdinaryHandle)

	n1 := NewNode(owner, 0x4000, 0)
	n2 := NewNode(owner, 0x5000, 0)
	refs.InsertOrUpdateHandle(n1, true, proc)
	refs.InsertOrUpdateHandle(n2, false, proc)

	require.Equal(t, 2, refs.Len())

	seen := make(map[uint32]bool)
	refs.Each(func(handle uint32, info *NodeRefInfo) {
		seen[handle] = true
	})
	require.Len(t, seen, 2)
}
