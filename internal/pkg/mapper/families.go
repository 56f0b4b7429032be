package mapper

/*
 *   Per-family mapping tables.  Paths are fixed by the vendor schema;
 *   a temperature-set command nests under a different path than a
 *   mode-set command for the same device.
 */

var tables = map[DeviceType]deviceTable{
	DeviceWasher: {
		fields: []fieldMap{
			{path: []string{"runState", "currentState"}, attribute: "currentState", convert: asString},
			{path: []string{"runState", "currentState"}, attribute: "runStateDisplay", convert: asCleanEnum},
			{path: []string{"operation", "washerOperationMode"}, attribute: "operationMode", convert: asCleanEnum},
			{path: []string{"course", "courseName"}, attribute: "course", convert: asCleanEnum},
			{path: []string{"timer", "remainHour"}, attribute: "remainTimeHour", convert: asInt},
			{path: []string{"timer", "remainMinute"}, attribute: "remainTimeMinute", convert: asInt},
			{path: []string{"error", "errorCode"}, attribute: "error", convert: asCleanEnum},
			{path: []string{"remoteControlEnable", "remoteControlEnabled"}, attribute: "remoteControlEnabled", convert: asBool},
		},
		derive: deriveLaundry,
		commands: map[string][]string{
			"operation": {"operation", "washerOperationMode"},
		},
	},

	DeviceDryer: {
		fields: []fieldMap{
			{path: []string{"runState", "currentState"}, attribute: "currentState", convert: asString},
			{path: []string{"runState", "currentState"}, attribute: "runStateDisplay", convert: asCleanEnum},
			{path: []string{"operation", "dryerOperationMode"}, attribute: "operationMode", convert: asCleanEnum},
			{path: []string{"timer", "remainHour"}, attribute: "remainTimeHour", convert: asInt},
			{path: []string{"timer", "remainMinute"}, attribute: "remainTimeMinute", convert: asInt},
			{path: []string{"error", "errorCode"}, attribute: "error", convert: asCleanEnum},
			{path: []string{"remoteControlEnable", "remoteControlEnabled"}, attribute: "remoteControlEnabled", convert: asBool},
		},
		derive: deriveLaundry,
		commands: map[string][]string{
			"operation": {"operation", "dryerOperationMode"},
		},
	},

	DeviceDishwasher: {
		fields: []fieldMap{
			{path: []string{"runState", "currentState"}, attribute: "currentState", convert: asString},
			{path: []string{"runState", "currentState"}, attribute: "runStateDisplay", convert: asCleanEnum},
			{path: []string{"operation", "dishWasherOperationMode"}, attribute: "operationMode", convert: asCleanEnum},
			{path: []string{"course", "currentDishWashingCourse"}, attribute: "course", convert: asCleanEnum},
			{path: []string{"timer", "remainHour"}, attribute: "remainTimeHour", convert: asInt},
			{path: []string{"timer", "remainMinute"}, attribute: "remainTimeMinute", convert: asInt},
			{path: []string{"door", "doorState"}, attribute: "doorState", convert: asCleanEnum},
			{path: []string{"error", "errorCode"}, attribute: "error", convert: asCleanEnum},
		},
		derive: deriveLaundry,
		commands: map[string][]string{
			"operation": {"operation", "dishWasherOperationMode"},
		},
	},

	DeviceRefrigerator: {
		fields: []fieldMap{
			{path: []string{"temperature", "fridgeTemp"}, attribute: "fridgeTemperature", convert: asFloat},
			{path: []string{"temperature", "freezerTemp"}, attribute: "freezerTemperature", convert: asFloat},
			{path: []string{"temperature", "unit"}, attribute: "temperatureUnit", convert: asString},
			{path: []string{"doorStatus", "doorState"}, attribute: "doorState", convert: asCleanEnum},
			{path: []string{"refrigeration", "expressMode"}, attribute: "expressMode", convert: asBool},
			{path: []string{"refrigeration", "freshAirFilter"}, attribute: "freshAirFilter", convert: asCleanEnum},
		},
		commands: map[string][]string{
			"fridgeTemperature":  {"temperature", "fridgeTemp"},
			"freezerTemperature": {"temperature", "freezerTemp"},
			"expressMode":        {"refrigeration", "expressMode"},
		},
	},

	DeviceAirConditioner: {
		fields: []fieldMap{
			{path: []string{"operation", "airConOperationMode"}, attribute: "currentState", convert: asString},
			{path: []string{"airConJobMode", "currentJobMode"}, attribute: "jobMode", convert: asCleanEnum},
			{path: []string{"temperature", "currentTemperature"}, attribute: "currentTemperature", convert: asFloat},
			{path: []string{"temperature", "targetTemperature"}, attribute: "targetTemperature", convert: asFloat},
			{path: []string{"temperature", "unit"}, attribute: "temperatureUnit", convert: asString},
			{path: []string{"airFlow", "windStrength"}, attribute: "fanSpeed", convert: asCleanEnum},
			{path: []string{"powerSave", "powerSaveEnabled"}, attribute: "powerSaveEnabled", convert: asBool},
		},
		derive: derivePower,
		commands: map[string][]string{
			"operation":         {"operation", "airConOperationMode"},
			"mode":              {"airConJobMode", "currentJobMode"},
			"targetTemperature": {"temperature", "targetTemperature"},
			"fanSpeed":          {"airFlow", "windStrength"},
		},
	},

	DeviceAirPurifier: {
		fields: []fieldMap{
			{path: []string{"operation", "airPurifierOperationMode"}, attribute: "currentState", convert: asString},
			{path: []string{"airPurifierJobMode", "currentJobMode"}, attribute: "jobMode", convert: asCleanEnum},
			{path: []string{"airQualitySensor", "PM1"}, attribute: "pm1", convert: asInt},
			{path: []string{"airQualitySensor", "PM2"}, attribute: "pm25", convert: asInt},
			{path: []string{"airQualitySensor", "PM10"}, attribute: "pm10", convert: asInt},
			{path: []string{"airFlow", "windStrength"}, attribute: "fanSpeed", convert: asCleanEnum},
		},
		derive: derivePower,
		commands: map[string][]string{
			"operation": {"operation", "airPurifierOperationMode"},
			"mode":      {"airPurifierJobMode", "currentJobMode"},
			"fanSpeed":  {"airFlow", "windStrength"},
		},
	},
}

// Laundry-style devices report an explicit run state; anything other
// than POWER_OFF means the appliance is on.  Remaining time is also
// collapsed to minutes when both timer fields are present.
func deriveLaundry(updates map[string]interface{}) {
	derivePower(updates)

	h, haveH := updates["remainTimeHour"].(int)
	m, haveM := updates["remainTimeMinute"].(int)
	if haveH || haveM {
		updates["remainingMinutes"] = h*60 + m
	}
}

func derivePower(updates map[string]interface{}) {
	state, ok := updates["currentState"].(string)
	if !ok {
		return
	}

	if state == "POWER_OFF" {
		updates["switch"] = "off"
	} else {
		updates["switch"] = "on"
	}
}
