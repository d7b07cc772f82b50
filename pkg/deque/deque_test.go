package deque

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPop(t *testing.T) {
	d := New[int]()
	assert.True(t, d.IsEmpty())
	assert.Equal(t, 0, d.Len())

	_, err := d.Front()
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = d.PopBack()
	assert.ErrorIs(t, err, ErrEmpty)

	d.PushBack(1)
	d.PushBack(2)
	d.PushFront(0)
	assert.Equal(t, 3, d.Len())

	front, err := d.Front()
	require.NoError(t, err)
	assert.Equal(t, 0, front)
	back, err := d.Back()
	require.NoError(t, err)
	assert.Equal(t, 2, back)

	v, err := d.PopFront()
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	v, err = d.PopBack()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	v, err = d.PopFront()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, d.IsEmpty())
}

func TestSlotStability(t *testing.T) {
	d := New[string]()
	sa := d.PushBack("a")
	sb := d.PushBack("b")
	sc := d.PushBack("c")

	// popping the front must not move the other slots
	_, err := d.PopFront()
	require.NoError(t, err)

	v, err := d.AtSlot(sb)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	v, err = d.AtSlot(sc)
	require.NoError(t, err)
	assert.Equal(t, "c", v)

	_, err = d.AtSlot(sa)
	assert.ErrorIs(t, err, ErrNotFound)

	// front insertion reuses the freed slot range
	sa2 := d.PushFront("a2")
	assert.Equal(t, sa, sa2)
}

func TestLogicalIndexing(t *testing.T) {
	d := New[int]()
	for i := 0; i < 5; i++ {
		d.PushBack(i * 10)
	}

	for i := 0; i < 5; i++ {
		v, err := d.At(i)
		require.NoError(t, err)
		assert.Equal(t, i*10, v)

		slot, err := d.SlotAt(i)
		require.NoError(t, err)
		sv, err := d.AtSlot(slot)
		require.NoError(t, err)
		assert.Equal(t, v, sv)
	}

	_, err := d.At(5)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = d.At(-1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestClearAt(t *testing.T) {
	t.Run("boundary slots pop", func(t *testing.T) {
		d := New[int]()
		sa := d.PushBack(1)
		d.PushBack(2)
		sc := d.PushBack(3)

		require.NoError(t, d.ClearAt(sa))
		assert.Equal(t, 2, d.Len())
		require.NoError(t, d.ClearAt(sc))
		assert.Equal(t, 1, d.Len())
	})

	t.Run("interior slots tombstone", func(t *testing.T) {
		d := New[int]()
		d.PushBack(1)
		sb := d.PushBack(2)
		sc := d.PushBack(3)

		require.NoError(t, d.ClearAt(sb))
		// length and neighbors unchanged
		assert.Equal(t, 3, d.Len())
		v, err := d.AtSlot(sb)
		require.NoError(t, err)
		assert.Zero(t, v)
		v, err = d.AtSlot(sc)
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	})

	t.Run("unknown slot", func(t *testing.T) {
		d := New[int]()
		d.PushBack(1)
		assert.ErrorIs(t, d.ClearAt(12345), ErrNotFound)
	})
}

func TestExportRestore(t *testing.T) {
	d := New[int]()
	d.PushBack(10)
	sb := d.PushBack(20)
	d.PushBack(30)
	require.NoError(t, d.ClearAt(sb)) // keep a tombstone in the snapshot

	front, items := d.Export()
	r := Restore(front, items)

	assert.Equal(t, d.Len(), r.Len())
	for i := 0; i < d.Len(); i++ {
		want, err := d.At(i)
		require.NoError(t, err)
		got, err := r.At(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		ws, err := d.SlotAt(i)
		require.NoError(t, err)
		rs, err := r.SlotAt(i)
		require.NoError(t, err)
		assert.Equal(t, ws, rs)
	}

	// the export is a copy, not a view
	d.PushBack(40)
	assert.Equal(t, 3, r.Len())
}
