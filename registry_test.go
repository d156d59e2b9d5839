package main

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice records what it is sent. Setting err makes sends fail, and a
// non-nil block makes sends wait until it is closed or ctx expires.
type fakeDevice struct {
	name    string
	block   chan struct{}
	entered chan struct{}

	mu       sync.Mutex
	err      error
	received []string
	closed   bool
}

func newFakeDevice(name string) *fakeDevice {
	return &fakeDevice{name: name}
}

func (f *fakeDevice) send(ctx context.Context, msg []byte) error {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.received = append(f.received, string(msg))
	return nil
}

func (f *fakeDevice) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeDevice) String() string {
	return f.name
}

func (f *fakeDevice) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeDevice) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeDevice) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegistryAdd(t *testing.T) {
	r := newRegistry()
	require.Equal(t, 0, r.size())

	d := newFakeDevice("a")
	assert.True(t, r.add(d))
	assert.False(t, r.add(d), "second add of the same device")
	assert.Equal(t, 1, r.size())

	// Identity, not content, decides membership.
	assert.True(t, r.add(newFakeDevice("a")))
	assert.Equal(t, 2, r.size())
}

func TestRegistryRemove(t *testing.T) {
	r := newRegistry()
	a, b := newFakeDevice("a"), newFakeDevice("b")
	r.add(a)
	r.add(b)

	assert.True(t, r.remove(a))
	assert.False(t, r.remove(a), "second remove of the same device")
	assert.False(t, r.remove(newFakeDevice("never added")))
	assert.Equal(t, []device{b}, r.snapshot())
}

func TestRegistrySnapshotIsIsolated(t *testing.T) {
	r := newRegistry()
	a, b := newFakeDevice("a"), newFakeDevice("b")
	r.add(a)
	r.add(b)

	snap := r.snapshot()
	r.add(newFakeDevice("c"))
	r.remove(a)

	assert.ElementsMatch(t, []device{a, b}, snap)
	assert.Equal(t, 2, r.size())
}

func TestRegistryConcurrentAddRemove(t *testing.T) {
	r := newRegistry()
	const n = 200
	devs := make([]*fakeDevice, n)
	for i := range devs {
		devs[i] = newFakeDevice(fmt.Sprint(i))
	}

	var wg conc.WaitGroup
	for i, d := range devs {
		wg.Go(func() {
			r.add(d)
			r.add(d)
			if i%2 == 0 {
				r.remove(d)
				r.remove(d)
			}
		})
		wg.Go(func() {
			for _, s := range r.snapshot() {
				_ = s.String()
			}
		})
	}
	wg.Wait()

	var want []device
	for i, d := range devs {
		if i%2 != 0 {
			want = append(want, d)
		}
	}
	assert.ElementsMatch(t, want, r.snapshot())
	assert.Equal(t, n/2, r.size())
}

func TestRegistryCloseAll(t *testing.T) {
	r := newRegistry()
	a, b := newFakeDevice("a"), newFakeDevice("b")
	r.add(a)
	r.add(b)

	assert.Equal(t, 2, r.closeAll())
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, r.size())

	// Devices arriving during shutdown are turned away.
	late := newFakeDevice("late")
	assert.False(t, r.add(late))
	assert.True(t, late.isClosed())
	assert.Empty(t, r.snapshot())
}
