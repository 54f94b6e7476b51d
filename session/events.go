// Package session supervises one controller's lifecycle end to end: BLE
// scan/connect, frame decode, fusion, calibration wizards, and input
// mapping, exposed to a GUI through an RPC surface and a published event
// stream.
package session

import (
	"time"

	"github.com/sirupsen/logrus"

	"gearbridge/calibration"
	"gearbridge/controller"
	"gearbridge/mapper"
)

// EventKind names one entry in the published event taxonomy.
type EventKind string

const (
	EventDeviceFound          EventKind = "device-found"
	EventDeviceConnected      EventKind = "device-connected"
	EventDeviceLostConnection EventKind = "device-lost-connection"
	EventDeviceError          EventKind = "device-error"
	EventControllerState      EventKind = "controller-state"
	EventBatteryLevel         EventKind = "battery-level"
	EventMagCalibrationStep   EventKind = "mag-calibration-step"
	EventMagCalibrationDone   EventKind = "mag-calibration-finished"
	EventGyroCalibrationStep  EventKind = "gyro-calibration-step"
	EventGyroCalibrationDone  EventKind = "gyro-calibration-finished"
	EventLogMessage           EventKind = "log-message"
)

// Event is one published notification. Only the payload fields that belong
// to Kind are populated; the rest stay at their zero values.
type Event struct {
	Kind EventKind

	DeviceID     string
	DeviceName   string
	Message      string
	Battery      uint8
	State        controller.State
	CalStep      calibration.StepToken
	CalSuccess   bool
	LogLevel     string
	LogTimestamp time.Time
	MouseMode    mapper.Mode
}

func deviceFound(id, name string) Event {
	return Event{Kind: EventDeviceFound, DeviceID: id, DeviceName: name}
}

func deviceConnected(id string) Event {
	return Event{Kind: EventDeviceConnected, DeviceID: id}
}

func deviceLost() Event { return Event{Kind: EventDeviceLostConnection} }

func deviceError(msg string) Event {
	return Event{Kind: EventDeviceError, Message: msg}
}

func controllerStateEvent(s controller.State) Event {
	return Event{Kind: EventControllerState, State: s}
}

func batteryEvent(level uint8) Event {
	return Event{Kind: EventBatteryLevel, Battery: level}
}

func logEvent(level, msg string) Event {
	return Event{Kind: EventLogMessage, LogLevel: level, Message: msg, LogTimestamp: time.Now()}
}

func mouseModeEvent(m mapper.Mode) Event {
	return Event{Kind: EventLogMessage, MouseMode: m, LogLevel: "info", Message: "mouse mode changed", LogTimestamp: time.Now()}
}

// busLogHook bridges logrus entries onto the event bus as log-message
// events, the only channel a GUI client has for surfacing backend log
// output as it happens rather than tailing a file.
type busLogHook struct {
	bus *Bus
}

func (h *busLogHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *busLogHook) Fire(e *logrus.Entry) error {
	h.bus.Publish(logEvent(e.Level.String(), e.Message))
	return nil
}
