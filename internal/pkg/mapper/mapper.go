package mapper

import (
	"fmt"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/cloudapi"
)

/*
 *   Supported vendor device families and their attribute mapping tables.
 *
 *   Decoding is pure and total: fields missing from a state document are
 *   simply absent from the result, never an error.  Unsupported device
 *   types are rejected at discovery time, so the tables here only ever
 *   see known families.
 */

type DeviceType int

const (
	DeviceWasher DeviceType = iota
	DeviceDryer
	DeviceDishwasher
	DeviceRefrigerator
	DeviceAirConditioner
	DeviceAirPurifier
)

var deviceTypeNames = []string{
	"DEVICE_WASHER",
	"DEVICE_DRYER",
	"DEVICE_DISHWASHER",
	"DEVICE_REFRIGERATOR",
	"DEVICE_AIR_CONDITIONER",
	"DEVICE_AIR_PURIFIER",
}

// ParseDeviceType converts a vendor device-type tag to its ID
func ParseDeviceType(name string) (DeviceType, bool) {
	for i, val := range deviceTypeNames {
		if val == name {
			return DeviceType(i), true
		}
	}

	return 0, false
}

// Name returns the vendor tag for a device type
func (t DeviceType) Name() string {
	if int(t) >= len(deviceTypeNames) {
		return fmt.Sprintf("unknown (id: %d)", t)
	}

	return deviceTypeNames[t]
}

// conversion from a raw vendor value to a local attribute value; the
// boolean reports whether the value was usable
type convertFunc func(interface{}) (interface{}, bool)

// fieldMap ties one fixed nested path in the vendor document to one
// local attribute
type fieldMap struct {
	path      []string
	attribute string
	convert   convertFunc
}

// deriveFunc appends attributes computed from already-decoded ones
type deriveFunc func(updates map[string]interface{})

type deviceTable struct {
	fields []fieldMap
	derive deriveFunc

	// attribute name -> nested command-document path; the final path
	// element is the key the value is stored under
	commands map[string][]string
}

// Decode maps a vendor state document (full or partial) to a set of
// attribute updates.  Pure: identical documents produce identical updates.
func Decode(t DeviceType, doc cloudapi.StateDocument) map[string]interface{} {
	table := tables[t]
	updates := make(map[string]interface{})

	for _, f := range table.fields {
		raw, ok := lookup(doc, f.path)
		if !ok {
			continue
		}

		val := raw
		if f.convert != nil {
			if val, ok = f.convert(raw); !ok {
				continue
			}
		}

		updates[f.attribute] = val
	}

	if table.derive != nil {
		table.derive(updates)
	}

	return updates
}

// Encode produces the vendor command document for setting one attribute.
// The nested path shape is fixed per device type and command.
func Encode(t DeviceType, attribute string, value interface{}) (cloudapi.StateDocument, error) {
	table := tables[t]

	path, ok := table.commands[attribute]
	if !ok {
		return nil, fmt.Errorf("device type %s has no command for attribute %q", t.Name(), attribute)
	}

	doc := cloudapi.StateDocument{}
	cursor := map[string]interface{}(doc)
	for _, key := range path[:len(path)-1] {
		next := map[string]interface{}{}
		cursor[key] = next
		cursor = next
	}
	cursor[path[len(path)-1]] = value

	return doc, nil
}

// Commands lists the attributes a device type accepts commands for
func Commands(t DeviceType) []string {
	table := tables[t]

	names := make([]string, 0, len(table.commands))
	for name := range table.commands {
		names = append(names, name)
	}

	return names
}

func lookup(doc map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(doc)

	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}

	return cur, true
}

func asString(v interface{}) (interface{}, bool) {
	s, ok := v.(string)
	return s, ok
}

func asCleanEnum(v interface{}) (interface{}, bool) {
	s := CleanEnum(v)
	return s, s != ""
}

// vendor numbers arrive as float64 from the JSON decoder
func asInt(v interface{}) (interface{}, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func asFloat(v interface{}) (interface{}, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0.0, false
}

func asBool(v interface{}) (interface{}, bool) {
	b, ok := v.(bool)
	return b, ok
}
