// Package kb holds the device registry: the keyed store of every live
// device's reconstructed state.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/meshgraph/model"
)

var (
	// ErrDeviceNotFound indicates an operation referenced a key with no live connection.
	ErrDeviceNotFound = errors.New("device not connected")
	// ErrDeviceExists indicates a connection is already live under the key.
	ErrDeviceExists = errors.New("device already connected")
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventDeviceAdded EventType = iota
	EventDeviceRemoved
)

// Event is emitted to subscribers when a device enters or leaves the registry.
type Event struct {
	Type  EventType
	Key   model.DeviceKey
	Count int // registry size after the change
}

// Registry is a thread-safe store of MeshDevice keyed by DeviceKey.
//
// A single mutex guards the whole map. Operations are short and synchronous,
// so coarse-grained exclusion is enough; callers must never block (channel
// sends, network I/O) inside an Update or ForEach callback.
type Registry struct {
	mu      sync.Mutex
	devices map[model.DeviceKey]*model.MeshDevice

	subs   map[int]func(Event)
	nextID int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[model.DeviceKey]*model.MeshDevice),
		subs:    make(map[int]func(Event)),
	}
}

// Insert adds a device under key. It fails if a device is already live
// under the same key.
func (r *Registry) Insert(key model.DeviceKey, d *model.MeshDevice) error {
	if d == nil {
		return fmt.Errorf("insert %q: nil device", key)
	}
	r.mu.Lock()
	if _, exists := r.devices[key]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDeviceExists, key)
	}
	d.Key = key
	d.EnsureMaps()
	r.devices[key] = d
	event := Event{Type: EventDeviceAdded, Key: key, Count: len(r.devices)}
	subs := r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, event)
	return nil
}

// Update runs fn against the live device while holding the registry lock.
// The device pointer must not escape fn.
func (r *Registry) Update(key model.DeviceKey, fn func(*model.MeshDevice) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, key)
	}
	return fn(d)
}

// Get returns a deep copy of the device.
func (r *Registry) Get(key model.DeviceKey) (*model.MeshDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, key)
	}
	return d.Clone(), nil
}

// Remove deletes the device under key. Removing a missing key is a no-op;
// the return value reports whether anything was removed.
func (r *Registry) Remove(key model.DeviceKey) bool {
	r.mu.Lock()
	removed := r.removeLocked(key)
	if !removed {
		r.mu.Unlock()
		return false
	}
	event := Event{Type: EventDeviceRemoved, Key: key, Count: len(r.devices)}
	subs := r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, event)
	return true
}

// RemoveIf removes the device under key only when pred, evaluated under the
// lock, returns true. It reports whether the device was removed.
func (r *Registry) RemoveIf(key model.DeviceKey, pred func(*model.MeshDevice) bool) bool {
	r.mu.Lock()
	d, ok := r.devices[key]
	if !ok || !pred(d) {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(key)
	event := Event{Type: EventDeviceRemoved, Key: key, Count: len(r.devices)}
	subs := r.subscribersLocked()
	r.mu.Unlock()

	notify(subs, event)
	return true
}

// ForEach calls fn for every device, in key order, under the registry lock.
func (r *Registry) ForEach(fn func(model.DeviceKey, *model.MeshDevice)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range r.keysLocked() {
		fn(key, r.devices[key])
	}
}

// Keys returns the live device keys in sorted order.
func (r *Registry) Keys() []model.DeviceKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keysLocked()
}

// Len returns the number of live devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function. Callbacks run outside the registry lock.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Registry) removeLocked(key model.DeviceKey) bool {
	d, ok := r.devices[key]
	if !ok {
		return false
	}
	d.Status = model.StatusDisconnected
	delete(r.devices, key)
	return true
}

func (r *Registry) keysLocked() []model.DeviceKey {
	keys := make([]model.DeviceKey, 0, len(r.devices))
	for k := range r.devices {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (r *Registry) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, r.subs[id])
	}
	return subs
}

// Notify subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}
