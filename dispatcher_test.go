package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastEmptyRegistry(t *testing.T) {
	d := newDispatcher(newRegistry(), time.Second)
	res := d.broadcast(context.Background(), []byte("banana"))
	assert.Equal(t, broadcastResult{}, res)
}

func TestBroadcastPrunesFailedDevices(t *testing.T) {
	r := newRegistry()
	d := newDispatcher(r, time.Second)

	var ok, bad []*fakeDevice
	for _, name := range []string{"a", "b", "c"} {
		ok = append(ok, newFakeDevice(name))
	}
	for _, name := range []string{"x", "y"} {
		f := newFakeDevice(name)
		f.failWith(errors.New("connection reset"))
		bad = append(bad, f)
	}
	for _, f := range append(append([]*fakeDevice{}, ok...), bad...) {
		r.add(f)
	}

	res := d.broadcast(context.Background(), []byte("banana"))
	assert.Equal(t, broadcastResult{Sent: 3, Pruned: 2}, res)

	assert.ElementsMatch(t, []device{ok[0], ok[1], ok[2]}, r.snapshot())
	for _, f := range ok {
		assert.Equal(t, []string{"banana"}, f.messages(), f.name)
		assert.False(t, f.isClosed(), f.name)
	}
	for _, f := range bad {
		assert.Empty(t, f.messages(), f.name)
		assert.True(t, f.isClosed(), f.name)
	}
}

func TestBroadcastTimeoutCountsAsFailure(t *testing.T) {
	r := newRegistry()
	d := newDispatcher(r, 20*time.Millisecond)

	stalled := newFakeDevice("stalled")
	stalled.block = make(chan struct{})
	fast := newFakeDevice("fast")
	r.add(stalled)
	r.add(fast)

	start := time.Now()
	res := d.broadcast(context.Background(), []byte("banana"))
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, broadcastResult{Sent: 1, Pruned: 1}, res)
	assert.Equal(t, []string{"banana"}, fast.messages())
	assert.Equal(t, []device{fast}, r.snapshot())
	assert.True(t, stalled.isClosed())
}

func TestBroadcastNoRetroactiveDelivery(t *testing.T) {
	r := newRegistry()
	d := newDispatcher(r, time.Second)

	slow := newFakeDevice("slow")
	slow.block = make(chan struct{})
	slow.entered = make(chan struct{}, 1)
	r.add(slow)

	done := make(chan broadcastResult)
	go func() { done <- d.broadcast(context.Background(), []byte("banana")) }()

	// The snapshot has been taken once a send is in flight.
	<-slow.entered
	late := newFakeDevice("late")
	r.add(late)
	close(slow.block)

	res := <-done
	assert.Equal(t, broadcastResult{Sent: 1}, res)
	assert.Empty(t, late.messages())
	assert.Equal(t, 2, r.size())
}

func TestBroadcastNotRetried(t *testing.T) {
	r := newRegistry()
	d := newDispatcher(r, time.Second)
	f := newFakeDevice("a")
	r.add(f)

	f.failWith(errors.New("broken pipe"))
	require.Equal(t, broadcastResult{Pruned: 1}, d.broadcast(context.Background(), []byte("1")))

	// A pruned device is gone for good, even if it could receive again.
	f.failWith(nil)
	assert.Equal(t, broadcastResult{}, d.broadcast(context.Background(), []byte("2")))
	assert.Empty(t, f.messages())
}

func TestNewDispatcherDefaultsTimeout(t *testing.T) {
	d := newDispatcher(newRegistry(), 0)
	assert.Equal(t, defaultSendTimeout, d.sendTimeout)
}
