package buffer_pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingContext fails CreateBuffer after a number of successful allocations.
type failingContext struct {
	*HostRecordingContext
	remaining int
}

func (c *failingContext) CreateBuffer(label string, stride, count uint32) (BufferHandle, error) {
	if c.remaining == 0 {
		return nil, errors.New("out of memory")
	}
	c.remaining--
	return c.HostRecordingContext.CreateBuffer(label, stride, count)
}

func TestGetOrAllocateIdempotent(t *testing.T) {
	ctx := NewHostRecordingContext()
	p := NewPool(WithLabel("test"))
	key := Key{Name: "Foo", LOD: 0}

	first, allocated := p.GetOrAllocate(ctx, key, 16, []uint32{10, 20})
	require.Len(t, first, 2)
	assert.True(t, allocated)
	assert.Equal(t, uint32(16), first[0].Stride())
	assert.Equal(t, uint32(20), first[1].Count())

	second, allocated := p.GetOrAllocate(ctx, key, 16, []uint32{10, 20})
	require.Len(t, second, 2)
	assert.False(t, allocated)
	assert.Same(t, first[0], second[0])
	assert.Same(t, first[1], second[1])
	assert.Equal(t, 2, ctx.Created())
	assert.Equal(t, 2, ctx.Registered())

	third, allocated := p.GetOrAllocate(ctx, key, 16, []uint32{10, 25})
	assert.Empty(t, third)
	assert.False(t, allocated)

	descs, ok := p.Descriptors(key)
	require.True(t, ok)
	assert.Equal(t, []Descriptor{{Stride: 16, Count: 10}, {Stride: 16, Count: 20}}, descs)
	assert.Equal(t, 2, ctx.Created())
}

func TestGetOrAllocateMismatch(t *testing.T) {
	tests := []struct {
		name   string
		stride uint32
		counts []uint32
	}{
		{"stride", 8, []uint32{10, 20}},
		{"length", 16, []uint32{10}},
		{"count", 16, []uint32{11, 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewHostRecordingContext()
			p := NewPool()
			key := Key{Name: "Foo"}
			_, _ = p.GetOrAllocate(ctx, key, 16, []uint32{10, 20})

			got, allocated := p.GetOrAllocate(ctx, key, tt.stride, tt.counts)
			assert.Nil(t, got)
			assert.False(t, allocated)
			assert.Equal(t, 0, ctx.Registered())

			again, _ := p.GetOrAllocate(ctx, key, 16, []uint32{10, 20})
			assert.Len(t, again, 2)
		})
	}
}

func TestLODsAreIndependentKeys(t *testing.T) {
	ctx := NewHostRecordingContext()
	p := NewPool()

	_, a := p.GetOrAllocate(ctx, Key{Name: "Foo", LOD: 0}, 4, []uint32{1})
	_, b := p.GetOrAllocate(ctx, Key{Name: "Foo", LOD: 1}, 8, []uint32{2})
	assert.True(t, a)
	assert.True(t, b)
	assert.Equal(t, 2, p.Len())
}

func TestImplicitNamespaceIsSeparate(t *testing.T) {
	ctx := NewHostRecordingContext()
	p := NewPool()
	key := Key{Name: "Foo"}

	named, _ := p.GetOrAllocate(ctx, key, 16, []uint32{4})
	implicit, allocated := p.GetOrAllocateImplicit(ctx, key, 8, []uint32{2, 2})
	require.Len(t, implicit, 2)
	assert.True(t, allocated)
	assert.NotSame(t, named[0], implicit[0])

	mismatch, _ := p.GetOrAllocateImplicit(ctx, key, 16, []uint32{4})
	assert.Nil(t, mismatch)
	assert.Equal(t, 2, p.Len())
}

func TestEmptyRequest(t *testing.T) {
	p := NewPool()
	got, allocated := p.GetOrAllocate(NewHostRecordingContext(), Key{Name: "Foo"}, 4, nil)
	assert.Nil(t, got)
	assert.False(t, allocated)
	assert.Zero(t, p.Len())
}

func TestAllocationFailureCachesNothing(t *testing.T) {
	ctx := &failingContext{HostRecordingContext: NewHostRecordingContext(), remaining: 1}
	p := NewPool()
	key := Key{Name: "Foo"}

	got, allocated := p.GetOrAllocate(ctx, key, 4, []uint32{1, 2})
	assert.Nil(t, got)
	assert.False(t, allocated)
	assert.Zero(t, p.Len())

	frame := ctx.FrameBuffers()
	require.Len(t, frame, 1)
	assert.True(t, frame[0].(*HostBuffer).Released())

	ctx.remaining = 2
	got, allocated = p.GetOrAllocate(ctx, key, 4, []uint32{1, 2})
	assert.Len(t, got, 2)
	assert.True(t, allocated)
}

func TestRelease(t *testing.T) {
	ctx := NewHostRecordingContext()
	p := NewPool()

	named, _ := p.GetOrAllocate(ctx, Key{Name: "Foo"}, 4, []uint32{1})
	implicit, _ := p.GetOrAllocateImplicit(ctx, Key{Name: "Bar"}, 4, []uint32{1})
	p.Release()

	assert.Zero(t, p.Len())
	assert.True(t, named[0].(*HostBuffer).Released())
	assert.True(t, implicit[0].(*HostBuffer).Released())

	_, allocated := p.GetOrAllocate(ctx, Key{Name: "Foo"}, 4, []uint32{1})
	assert.True(t, allocated)
}

func TestHostUpload(t *testing.T) {
	ctx := NewHostRecordingContext()
	h, err := ctx.CreateBuffer("buf", 4, 2)
	require.NoError(t, err)

	require.NoError(t, ctx.Upload(h, []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, h.(*HostBuffer).Bytes())
	assert.Error(t, ctx.Upload(h, make([]byte, 9)))

	h.Release()
	assert.Error(t, ctx.Upload(h, []byte{1}))
}
