package chatctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendFunctionCallOutputRequiresPriorCall(t *testing.T) {
	ctx := New()
	require.Panics(t, func() {
		ctx.AppendFunctionCallOutput("call-1", "get_weather", "22C", false)
	})

	ctx.AppendFunctionCall("call-1", "get_weather", `{"location":"Paris"}`)
	require.NotPanics(t, func() {
		ctx.AppendFunctionCallOutput("call-1", "get_weather", "22C", false)
	})
}

func TestAppendRawRejectsDuplicateIDs(t *testing.T) {
	ctx := New()
	it := ctx.AppendText(RoleUser, "hi", false)

	err := ctx.AppendRaw(it)
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestCopyIsIndependent(t *testing.T) {
	ctx := New()
	ctx.AppendText(RoleUser, "hello", false)

	cp := ctx.Copy()
	cp.AppendText(RoleAssistant, "hi", false)

	require.Equal(t, 1, ctx.Len())
	require.Equal(t, 2, cp.Len())
}

func TestCopyCopyIsEquivalentToOriginal(t *testing.T) {
	ctx := New()
	ctx.AppendText(RoleUser, "hello", false)
	ctx.AppendText(RoleAssistant, "hi", false)

	cp := ctx.Copy().Copy()
	require.True(t, ctx.Equivalent(cp))
}

func TestReadonlyViewReflectsUnderlyingContext(t *testing.T) {
	ctx := New()
	ctx.AppendText(RoleUser, "hello", false)

	view := ctx.Readonly()
	require.Equal(t, ctx.Items(), view.Items())
	require.Equal(t, 1, view.Len())
}

func TestEquivalenceIgnoresTimestamps(t *testing.T) {
	a := New()
	a.AppendText(RoleUser, "hi", false)

	// Copy() preserves timestamps exactly, so equivalence trivially holds;
	// the point under test is that Equivalent never inspects CreatedAt.
	b := a.Copy()
	require.True(t, a.Equivalent(b))

	item := b.Items()[0]
	item.CreatedAt = item.CreatedAt.Add(time.Hour)
	c := New()
	require.NoError(t, c.AppendRaw(item))
	require.True(t, a.Equivalent(c))
}

func TestRemoteInsertAndDeleteRoundTrips(t *testing.T) {
	r := NewRemote()
	a := Item{ID: "a", Type: ItemMessage, Role: RoleUser}
	b := Item{ID: "b", Type: ItemMessage, Role: RoleAssistant}

	require.NoError(t, r.Insert("", a))
	require.NoError(t, r.Insert("a", b))
	require.Equal(t, 2, r.Len())

	require.NoError(t, r.Delete("b"))
	require.Equal(t, 1, r.Len())

	_, ok := r.Get("b")
	require.False(t, ok)

	got, ok := r.Get("a")
	require.True(t, ok)
	require.Equal(t, a, got)
}

func TestRemoteInsertRejectsDuplicateID(t *testing.T) {
	r := NewRemote()
	item := Item{ID: "a", Type: ItemMessage}
	require.NoError(t, r.Insert("", item))

	err := r.Insert("", item)
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestRemoteDeleteUnknownIDFails(t *testing.T) {
	r := NewRemote()
	err := r.Delete("missing")
	require.ErrorIs(t, err, ErrUnknownID)
}

func TestRemoteInsertDeleteRestoresEquivalence(t *testing.T) {
	r := NewRemote()
	a := Item{ID: "a", Type: ItemMessage, Role: RoleUser}
	require.NoError(t, r.Insert("", a))

	before := r.ToChatCtx()

	x := Item{ID: "x", Type: ItemMessage, Role: RoleUser}
	require.NoError(t, r.Insert("a", x))
	require.NoError(t, r.Delete("x"))

	after := r.ToChatCtx()
	require.True(t, before.Equivalent(after))
}

func TestToChatCtxPreservesInsertionOrder(t *testing.T) {
	r := NewRemote()
	require.NoError(t, r.Insert("", Item{ID: "1", Type: ItemMessage}))
	require.NoError(t, r.Insert("1", Item{ID: "3", Type: ItemMessage}))
	require.NoError(t, r.Insert("1", Item{ID: "2", Type: ItemMessage}))

	ctx := r.ToChatCtx()
	ids := make([]string, 0, ctx.Len())
	for _, it := range ctx.Items() {
		ids = append(ids, it.ID)
	}
	require.Equal(t, []string{"1", "2", "3"}, ids)
}
