package dispatch

import (
	"fmt"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/cloudapi"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/logging"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/mapper"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/registry"
)

// CommandError is a failed control submission.  The underlying cause is
// one of the cloudapi error types.
type CommandError struct {
	DeviceID  string
	Attribute string
	Err       error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q for device %s: %v", e.Attribute, e.DeviceID, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Dispatcher routes locally-initiated control intents to the vendor.
// Fire and forget from the session's perspective: success is the HTTP
// exchange completing, the resulting state change (if any) arrives
// later via the streaming session or the next scheduled poll.
//
// Concurrent commands to the same device are not serialised here;
// last request sent wins at the vendor side.
type Dispatcher struct {
	cloud cloudapi.ApplianceCloud
	reg   *registry.Registry
}

func New(cloud cloudapi.ApplianceCloud, reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		cloud: cloud,
		reg:   reg,
	}
}

// Send encodes and submits "set attribute of device to value"
func (d *Dispatcher) Send(deviceID string, attribute string, value interface{}) error {
	h, ok := d.reg.Handle(deviceID)
	if !ok {
		return &CommandError{
			DeviceID:  deviceID,
			Attribute: attribute,
			Err:       fmt.Errorf("no handle for device"),
		}
	}

	doc, err := mapper.Encode(h.Type(), attribute, value)
	if err != nil {
		return &CommandError{DeviceID: deviceID, Attribute: attribute, Err: err}
	}

	logging.Logger(nil).Debugf("dispatching command %q=%v to device %s", attribute, value, deviceID)

	if _, err := d.cloud.Control(deviceID, doc); err != nil {
		return &CommandError{DeviceID: deviceID, Attribute: attribute, Err: err}
	}

	return nil
}
