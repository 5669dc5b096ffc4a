package controller

import (
	"fmt"
	"slices"
	"time"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/detection"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/weather"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

// RunState is the lifecycle state of the detection session.
type RunState int

const (
	Idle RunState = iota
	LoadingModel
	Ready
	Detecting
	Failed
)

var runStateNames = map[RunState]string{
	Idle:         "idle",
	LoadingModel: "loading_model",
	Ready:        "ready",
	Detecting:    "detecting",
	Failed:       "failed",
}

func (s RunState) String() string {
	if name, ok := runStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RunState(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Toggleable reports whether the start/stop command has an effect in s.
func (s RunState) Toggleable() bool {
	return s == Ready || s == Detecting
}

// Loading reports whether the model is still being prepared.
func (s RunState) Loading() bool {
	return s == Idle || s == LoadingModel
}

// User-facing failure messages.
const (
	MsgModelLoadFailed = "Failed to load object detection model."
	MsgWebcamAccess    = "Please allow access to the webcam."
)

// Status is an immutable snapshot of the session.
type Status struct {
	RunState       RunState
	Failure        string
	Alert          detection.Alert
	Detections     []types.Detection // full list from the latest rendered frame, unfiltered
	Temperature    weather.Temperature
	FrameNumber    uint64
	FrameWidth     int
	FrameHeight    int
	LastCycleError string
	UpdatedAt      time.Time
}

func (s Status) clone() Status {
	s.Detections = slices.Clone(s.Detections)
	return s
}

// EventKind tells listeners what changed.
type EventKind string

const (
	EventState       EventKind = "state"
	EventCycle       EventKind = "cycle"
	EventTemperature EventKind = "temperature"
	EventFrame       EventKind = "frame" // new preview image, status unchanged
)

// Event is delivered to listeners after every change.
type Event struct {
	Kind   EventKind
	Status Status
}

// Listener receives events. It is called with the controller locked and must
// not block or call back into the controller.
type Listener func(Event)
