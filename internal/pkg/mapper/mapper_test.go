package mapper

import (
	"testing"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/cloudapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceType(t *testing.T) {
	dt, ok := ParseDeviceType("DEVICE_DRYER")
	require.True(t, ok)
	assert.Equal(t, DeviceDryer, dt)
	assert.Equal(t, "DEVICE_DRYER", dt.Name())

	_, ok = ParseDeviceType("DEVICE_LAWNMOWER")
	assert.False(t, ok)
}

func TestDecodeDryer(t *testing.T) {
	doc := cloudapi.StateDocument{
		"runState": map[string]interface{}{
			"currentState": "RUNNING",
		},
		"timer": map[string]interface{}{
			"remainHour":   float64(1),
			"remainMinute": float64(25),
		},
		"error": map[string]interface{}{
			"errorCode": "DEVICE_ERROR_NONE",
		},
	}

	updates := Decode(DeviceDryer, doc)

	assert.Equal(t, "RUNNING", updates["currentState"])
	assert.Equal(t, "Running", updates["runStateDisplay"])
	assert.Equal(t, "on", updates["switch"])
	assert.Equal(t, 85, updates["remainingMinutes"])
	assert.Equal(t, "Error None", updates["error"])
}

func TestDecodePowerOff(t *testing.T) {
	doc := cloudapi.StateDocument{
		"runState": map[string]interface{}{
			"currentState": "POWER_OFF",
		},
	}

	updates := Decode(DeviceWasher, doc)
	assert.Equal(t, "off", updates["switch"])
	assert.Equal(t, "Off", updates["runStateDisplay"])
}

// Missing fields are simply absent, never an error
func TestDecodePartialDocument(t *testing.T) {
	doc := cloudapi.StateDocument{
		"temperature": map[string]interface{}{
			"targetTemperature": float64(21),
		},
	}

	updates := Decode(DeviceAirConditioner, doc)

	assert.Equal(t, 21.0, updates["targetTemperature"])
	assert.NotContains(t, updates, "currentTemperature")
	assert.NotContains(t, updates, "switch")
}

func TestDecodeEmptyDocument(t *testing.T) {
	assert.Empty(t, Decode(DeviceRefrigerator, cloudapi.StateDocument{}))
}

// Decode is pure: two calls on an identical document produce identical
// attribute updates
func TestDecodeIsPure(t *testing.T) {
	doc := cloudapi.StateDocument{
		"runState": map[string]interface{}{"currentState": "RUNNING"},
		"timer":    map[string]interface{}{"remainHour": float64(0), "remainMinute": float64(42)},
	}

	first := Decode(DeviceWasher, doc)
	second := Decode(DeviceWasher, doc)
	assert.Equal(t, first, second)
}

func TestDecodeWrongShapes(t *testing.T) {
	// scalar where a map is expected, and vice versa
	doc := cloudapi.StateDocument{
		"runState": "RUNNING",
		"timer": map[string]interface{}{
			"remainHour": "soon",
		},
	}

	updates := Decode(DeviceDryer, doc)
	assert.Empty(t, updates)
}

func TestEncodeCommandPaths(t *testing.T) {
	testCases := []struct {
		name      string
		t         DeviceType
		attribute string
		value     interface{}
		want      cloudapi.StateDocument
	}{
		{
			name:      "dryer operation",
			t:         DeviceDryer,
			attribute: "operation",
			value:     "START",
			want: cloudapi.StateDocument{
				"operation": map[string]interface{}{"dryerOperationMode": "START"},
			},
		},
		{
			name:      "aircon target temperature",
			t:         DeviceAirConditioner,
			attribute: "targetTemperature",
			value:     22.5,
			want: cloudapi.StateDocument{
				"temperature": map[string]interface{}{"targetTemperature": 22.5},
			},
		},
		{
			name:      "aircon mode nests under a different path",
			t:         DeviceAirConditioner,
			attribute: "mode",
			value:     "AIR_DRY",
			want: cloudapi.StateDocument{
				"airConJobMode": map[string]interface{}{"currentJobMode": "AIR_DRY"},
			},
		},
		{
			name:      "fridge temperature",
			t:         DeviceRefrigerator,
			attribute: "fridgeTemperature",
			value:     4,
			want: cloudapi.StateDocument{
				"temperature": map[string]interface{}{"fridgeTemp": 4},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Encode(tc.t, tc.attribute, tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.want, doc)
		})
	}
}

func TestEncodeUnknownAttribute(t *testing.T) {
	_, err := Encode(DeviceWasher, "warpFactor", 9)
	assert.Error(t, err)
}

func TestCommands(t *testing.T) {
	assert.ElementsMatch(t, []string{"operation"}, Commands(DeviceDryer))
	assert.Contains(t, Commands(DeviceAirConditioner), "targetTemperature")
}
