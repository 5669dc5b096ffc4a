package webmonitor

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/controller"
	"github.com/dj-oyu/animal-health-monitor/monitor-server/internal/detection"
)

// Page text.
const (
	StartLabel   = "Start Detection"
	StopLabel    = "Stop Detection"
	EmptyMessage = "No Animal detected yet."
)

// StatusView is the page-facing rendering of a controller status.
type StatusView struct {
	RunState     controller.RunState  `json:"run_state"`
	Toggle       ToggleView           `json:"toggle"`
	Loading      bool                 `json:"loading"`
	Error        *string              `json:"error"`
	Alert        AlertView            `json:"alert"`
	Temperature  TemperatureView      `json:"temperature"`
	Detections   []detection.TableRow `json:"detections"`
	EmptyMessage string               `json:"empty_message"`
	Frame        FrameView            `json:"frame"`
	LastError    string               `json:"last_error"`
	Timestamp    float64              `json:"timestamp"`
}

type ToggleView struct {
	Label    string `json:"label"`
	Disabled bool   `json:"disabled"`
}

type AlertView struct {
	Active  bool   `json:"active"`
	Message string `json:"message"`
}

type TemperatureView struct {
	Available bool    `json:"available"`
	Celsius   float64 `json:"celsius"`
	Display   string  `json:"display"`
}

type FrameView struct {
	Number uint64 `json:"number"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// NewStatusView renders st for the page.
func NewStatusView(st controller.Status) StatusView {
	label := StartLabel
	if st.RunState == controller.Detecting {
		label = StopLabel
	}

	var failure *string
	if st.Failure != "" {
		msg := st.Failure
		failure = &msg
	}

	ts := st.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	return StatusView{
		RunState: st.RunState,
		Toggle:   ToggleView{Label: label, Disabled: !st.RunState.Toggleable()},
		Loading:  st.RunState.Loading(),
		Error:    failure,
		Alert:    AlertView{Active: st.Alert.Active, Message: st.Alert.Message},
		Temperature: TemperatureView{
			Available: st.Temperature.Available,
			Celsius:   st.Temperature.Celsius,
			Display:   st.Temperature.Display(),
		},
		Detections:   detection.Table(st.Detections),
		EmptyMessage: EmptyMessage,
		Frame: FrameView{
			Number: st.FrameNumber,
			Width:  st.FrameWidth,
			Height: st.FrameHeight,
		},
		LastError: st.LastCycleError,
		Timestamp: float64(ts.UnixMilli()) / 1000,
	}
}

// protoStruct converts the view into a google.protobuf.Struct by way of its
// JSON form, so both encodings carry the same field names.
func (v StatusView) protoStruct() (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal status view: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode status view: %w", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build status struct: %w", err)
	}
	return s, nil
}
