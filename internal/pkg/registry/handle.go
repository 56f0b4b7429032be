package registry

import (
	"reflect"
	"sync"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/mapper"
)

// DeviceHandle is the locally addressable proxy for one appliance.
// Snapshot mutation is serialised per handle; different handles never
// block each other.
type DeviceHandle struct {
	id         string
	alias      string
	deviceType mapper.DeviceType

	mu       sync.Mutex
	primary  bool
	snapshot map[string]interface{}
}

func (h *DeviceHandle) ID() string {
	return h.id
}

func (h *DeviceHandle) Alias() string {
	return h.alias
}

func (h *DeviceHandle) Type() mapper.DeviceType {
	return h.deviceType
}

func (h *DeviceHandle) isPrimary() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.primary
}

func (h *DeviceHandle) setPrimary(p bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.primary = p
}

// IsPrimary reports whether this handle owns the streaming session
func (h *DeviceHandle) IsPrimary() bool {
	return h.isPrimary()
}

// Snapshot returns a copy of the last-known attribute values
func (h *DeviceHandle) Snapshot() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]interface{}, len(h.snapshot))
	for k, v := range h.snapshot {
		out[k] = v
	}
	return out
}

// Attribute returns one attribute value from the snapshot
func (h *DeviceHandle) Attribute(name string) (interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.snapshot[name]
	return v, ok
}

// merge applies updates under the handle lock and returns the names of
// attributes whose values changed
func (h *DeviceHandle) merge(updates map[string]interface{}) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	// DeepEqual: attribute values are usually scalars but nothing stops
	// a mapping table producing a slice or map
	var changed []string
	for k, v := range updates {
		if old, ok := h.snapshot[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		h.snapshot[k] = v
		changed = append(changed, k)
	}

	return changed
}
