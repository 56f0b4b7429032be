package registry

import (
	"sync"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/cloudapi"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/logging"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/mapper"
	"github.com/pkg/errors"
)

/*
 *   In-memory catalog of discovered appliances and the locally
 *   addressable device handles for the selected ones.
 *
 *   Invariant: at most one handle is primary, and if any handle exists
 *   then exactly one is primary.  The primary handle owns the streaming
 *   session.
 */

// ApplianceRecord is one vendor-reported device after device-type
// filtering.  Refreshed on every discovery pass.
type ApplianceRecord struct {
	ID         string
	Alias      string
	Type       mapper.DeviceType
	ModelName  string
	Reportable bool
}

// AttributeChange is the observable side effect of an applied update
type AttributeChange struct {
	DeviceID  string
	Attribute string
	Value     interface{}
}

// Observer receives attribute-change notifications.  Called with the
// handle lock released.
type Observer func(AttributeChange)

type Registry struct {
	cloud cloudapi.ApplianceCloud

	mu      sync.RWMutex
	records map[string]ApplianceRecord
	handles map[string]*DeviceHandle

	observer Observer
}

func New(cloud cloudapi.ApplianceCloud) *Registry {
	return &Registry{
		cloud:   cloud,
		records: make(map[string]ApplianceRecord),
		handles: make(map[string]*DeviceHandle),
	}
}

// SetObserver registers the attribute-change consumer (the hub-facing
// layer).  Replaces any previous observer.
func (r *Registry) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// Discover refreshes the appliance catalog from the vendor listing.
// Unsupported device types are silently excluded.
func (r *Registry) Discover() ([]ApplianceRecord, error) {
	summaries, err := r.cloud.Devices()
	if err != nil {
		return nil, errors.Wrap(err, "discovering appliances")
	}

	var records []ApplianceRecord
	for _, s := range summaries {
		t, ok := mapper.ParseDeviceType(s.DeviceType)
		if !ok {
			logging.Logger(nil).Debugf("Ignoring unsupported device type [%s] for device %s", s.DeviceType, s.ID)
			continue
		}

		records = append(records, ApplianceRecord{
			ID:         s.ID,
			Alias:      s.Alias,
			Type:       t,
			ModelName:  s.ModelName,
			Reportable: s.Reportable,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]ApplianceRecord, len(records))
	for _, rec := range records {
		r.records[rec.ID] = rec
	}

	return records, nil
}

// SyncSelection reconciles the set of instantiated handles with the
// user's selection.  Handles for deselected devices are destroyed and
// the primary flag reassigned so the invariant holds.
func (r *Registry) SyncSelection(selectedIDs []string) {
	selected := make(map[string]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.handles {
		if !selected[id] {
			logging.Logger(nil).Infof("Destroying handle for deselected device %s", id)
			delete(r.handles, id)
		}
	}

	for id := range selected {
		if _, ok := r.handles[id]; ok {
			continue
		}

		rec, ok := r.records[id]
		if !ok {
			logging.Logger(nil).Warnf("Selected device %s is not in the catalog, skipping", id)
			continue
		}

		r.handles[id] = &DeviceHandle{
			id:         rec.ID,
			alias:      rec.Alias,
			deviceType: rec.Type,
			snapshot:   make(map[string]interface{}),
		}
		logging.Logger(nil).Infof("Created handle for device %s (%s)", id, rec.Type.Name())
	}

	r.ensurePrimaryLocked()
}

// reassign the primary flag if the current primary went away
func (r *Registry) ensurePrimaryLocked() {
	var primary *DeviceHandle
	for _, h := range r.handles {
		if h.isPrimary() {
			if primary != nil {
				// duplicate primaries should be impossible; demote
				h.setPrimary(false)
				continue
			}
			primary = h
		}
	}

	if primary != nil || len(r.handles) == 0 {
		return
	}

	for _, h := range r.handles {
		h.setPrimary(true)
		logging.Logger(nil).Infof("Device %s is now the primary handle", h.ID())
		return
	}
}

// Handle returns the handle for a device ID
func (r *Registry) Handle(deviceID string) (*DeviceHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[deviceID]
	return h, ok
}

// Handles returns all instantiated handles
func (r *Registry) Handles() []*DeviceHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*DeviceHandle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Primary returns the handle owning the streaming session, or nil when
// no devices are selected
func (r *Registry) Primary() *DeviceHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.handles {
		if h.isPrimary() {
			return h
		}
	}
	return nil
}

// Record returns the catalog record for a device ID
func (r *Registry) Record(deviceID string) (ApplianceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[deviceID]
	return rec, ok
}

// ApplyUpdate merges attribute updates into a handle's snapshot and
// notifies the observer.  An unknown device ID is a logged no-op -
// transient events for devices not yet selected must not break the
// pipeline.
func (r *Registry) ApplyUpdate(deviceID string, updates map[string]interface{}) {
	if len(updates) == 0 {
		return
	}

	r.mu.RLock()
	h, ok := r.handles[deviceID]
	observer := r.observer
	r.mu.RUnlock()

	if !ok {
		logging.Logger(nil).Warnf("Dropping update for unknown device %s", deviceID)
		return
	}

	changed := h.merge(updates)

	if observer != nil {
		for _, attr := range changed {
			observer(AttributeChange{
				DeviceID:  deviceID,
				Attribute: attr,
				Value:     updates[attr],
			})
		}
	}
}
