package list_test

import (
	"testing"

	"basaltdb/pkg/list"

	"github.com/stretchr/testify/require"
)

func collect(l *list.List) []int {
	var out []int
	l.Map(func(link *list.Link) {
		out = append(out, link.GetValue().(int))
	})
	return out
}

func TestListPushHeadTail(t *testing.T) {
	t.Parallel()
	l := list.NewList()
	require.Nil(t, l.PeekHead())
	require.Nil(t, l.PeekTail())

	l.PushTail(2)
	l.PushHead(1)
	l.PushTail(3)
	require.Equal(t, []int{1, 2, 3}, collect(l))
	require.Equal(t, 1, l.PeekHead().GetValue())
	require.Equal(t, 3, l.PeekTail().GetValue())
}

func TestListPopSelf(t *testing.T) {
	t.Parallel()
	l := list.NewList()
	links := make([]*list.Link, 0)
	for i := 0; i < 5; i++ {
		links = append(links, l.PushTail(i))
	}
	// Middle, head, tail, then drain.
	links[2].PopSelf()
	require.Equal(t, []int{0, 1, 3, 4}, collect(l))
	links[0].PopSelf()
	require.Equal(t, []int{1, 3, 4}, collect(l))
	links[4].PopSelf()
	require.Equal(t, []int{1, 3}, collect(l))
	links[1].PopSelf()
	links[3].PopSelf()
	require.Nil(t, l.PeekHead())
	require.Nil(t, l.PeekTail())
}

func TestListPopOnlyLink(t *testing.T) {
	t.Parallel()
	l := list.NewList()
	link := l.PushHead(42)
	link.PopSelf()
	require.Nil(t, l.PeekHead())
	require.Nil(t, l.PeekTail())
	// Popping a detached link is a no-op.
	link.PopSelf()
}

func TestListFind(t *testing.T) {
	t.Parallel()
	l := list.NewList()
	for i := 0; i < 10; i++ {
		l.PushTail(i)
	}
	link := l.Find(func(link *list.Link) bool {
		return link.GetValue().(int) == 7
	})
	require.NotNil(t, link)
	require.Equal(t, 7, link.GetValue())
	require.Nil(t, l.Find(func(link *list.Link) bool { return false }))
}

func TestListTailToHeadTraversal(t *testing.T) {
	t.Parallel()
	l := list.NewList()
	for i := 0; i < 4; i++ {
		l.PushHead(i)
	}
	// Newest at head, so tail-to-head walks in insertion order.
	var out []int
	for link := l.PeekTail(); link != nil; link = link.GetPrev() {
		out = append(out, link.GetValue().(int))
	}
	require.Equal(t, []int{0, 1, 2, 3}, out)
}
