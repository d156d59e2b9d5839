package main

import (
	"context"
	"sync"
)

// device is a live connection the relay can deliver messages to.
// Identity is the handle itself, never the payload.
type device interface {
	send(ctx context.Context, msg []byte) error
	close()
	String() string
}

type devices map[device]struct {
}

// registry holds the set of live device connections.
type registry struct {
	mu      sync.RWMutex // Protects devices and closed
	devices devices
	closed  bool
}

func newRegistry() *registry {
	return &registry{
		devices: make(devices),
	}
}

// add registers d as a broadcast target. Adding a device twice is a no-op.
// Once the registry has been closed, d is closed instead of registered.
func (r *registry) add(d device) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		d.close()
		return false
	}
	if _, ok := r.devices[d]; ok {
		r.mu.Unlock()
		return false
	}
	r.devices[d] = struct{}{}
	r.mu.Unlock()

	incr("devices", 1)
	return true
}

// remove deregisters d. Removing an absent device is a no-op.
func (r *registry) remove(d device) bool {
	r.mu.Lock()
	if _, ok := r.devices[d]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.devices, d)
	r.mu.Unlock()

	decr("devices", 1)
	return true
}

// snapshot returns a point-in-time copy of the registered devices.
func (r *registry) snapshot() []device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]device, 0, len(r.devices))
	for d := range r.devices {
		out = append(out, d)
	}
	return out
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// closeAll empties the registry and closes every device that was in it.
// Later adds are refused.
func (r *registry) closeAll() int {
	r.mu.Lock()
	r.closed = true
	all := r.devices
	r.devices = make(devices)
	r.mu.Unlock()

	for d := range all {
		d.close()
	}
	decr("devices", int64(len(all)))
	return len(all)
}
