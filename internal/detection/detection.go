// Package detection holds the rules that turn a frame's raw detections into
// what the monitor draws, tabulates and alerts on.
package detection

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/samber/lo"

	"github.com/dj-oyu/animal-health-monitor/monitor-server/pkg/types"
)

// AlertMessage is shown while a watch-listed class is in view.
const AlertMessage = "Red Alert: Wild Animal Detected!"

// FilterSet is the ordered allow-list of classes eligible for rendering and alerting.
// Membership is exact (case-sensitive).
type FilterSet struct {
	classes []string
	index   map[string]struct{}
}

// NewFilterSet builds a FilterSet, dropping blanks and duplicates but keeping order.
func NewFilterSet(classes []string) FilterSet {
	cleaned := lo.Uniq(lo.Compact(lo.Map(classes, func(c string, _ int) string {
		return strings.TrimSpace(c)
	})))

	index := make(map[string]struct{}, len(cleaned))
	for _, c := range cleaned {
		index[c] = struct{}{}
	}
	return FilterSet{classes: cleaned, index: index}
}

// Contains reports whether class is in the set.
func (f FilterSet) Contains(class string) bool {
	_, ok := f.index[class]
	return ok
}

// Classes returns the configured classes in order.
func (f FilterSet) Classes() []string {
	out := make([]string, len(f.classes))
	copy(out, f.classes)
	return out
}

// Apply returns the detections whose class is in the set, in input order.
// Scores play no part in the decision.
func (f FilterSet) Apply(detections []types.Detection) []types.Detection {
	return lo.Filter(detections, func(d types.Detection, _ int) bool {
		return f.Contains(d.Class)
	})
}

// WatchList is the set of hazardous classes, compared case-insensitively.
type WatchList struct {
	classes map[string]struct{}
}

// NewWatchList builds a WatchList from class names.
func NewWatchList(classes []string) WatchList {
	lowered := lo.Uniq(lo.Compact(lo.Map(classes, func(c string, _ int) string {
		return strings.ToLower(strings.TrimSpace(c))
	})))

	set := make(map[string]struct{}, len(lowered))
	for _, c := range lowered {
		set[c] = struct{}{}
	}
	return WatchList{classes: set}
}

// Contains reports whether class is watch-listed, ignoring case.
func (w WatchList) Contains(class string) bool {
	_, ok := w.classes[strings.ToLower(class)]
	return ok
}

// Alert is the binary alert condition derived from one frame.
type Alert struct {
	Active  bool   `json:"active"`
	Message string `json:"message,omitempty"`
}

// NoAlert is the inactive alert.
var NoAlert = Alert{}

// Evaluate computes the alert for one frame: active iff some detection passes the
// filter and is watch-listed. Only this frame's detections are considered.
func Evaluate(detections []types.Detection, filter FilterSet, watch WatchList) Alert {
	hit := lo.SomeBy(filter.Apply(detections), func(d types.Detection) bool {
		return watch.Contains(d.Class)
	})
	if !hit {
		return NoAlert
	}
	return Alert{Active: true, Message: AlertMessage}
}

// RoundHalfUp rounds like JavaScript's Math.round: halves go towards +Inf.
func RoundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

// OverlayLabel formats the text drawn next to a box, e.g. "dog (87%)".
func OverlayLabel(d types.Detection) string {
	return fmt.Sprintf("%s (%d%%)", d.Class, int(RoundHalfUp(d.Score*100)))
}

// LabelAnchor returns where the label of a box starting at (x, y) is drawn:
// above the box when there is room, otherwise just below the top edge of the frame.
func LabelAnchor(box types.BBox) (x, y float64) {
	if box.Y > 10 {
		return box.X, box.Y - 5
	}
	return box.X, 10
}

// TableRow is one line of the results table.
type TableRow struct {
	Class      string `json:"class"`
	BBox       string `json:"bbox"`
	Confidence string `json:"confidence"`
}

// Row formats a detection for the results table.
func Row(d types.Detection) TableRow {
	return TableRow{
		Class: d.Class,
		BBox: fmt.Sprintf("[%d, %d, %d, %d]",
			int(RoundHalfUp(d.BBox.X)), int(RoundHalfUp(d.BBox.Y)),
			int(RoundHalfUp(d.BBox.Width)), int(RoundHalfUp(d.BBox.Height))),
		Confidence: ConfidencePercent(d.Score),
	}
}

// ConfidencePercent formats a score as a percentage with two decimals, e.g. "87.34%".
// A value exactly halfway between two hundredths rounds up.
func ConfidencePercent(score float64) string {
	pct := score * 100
	if !math.IsNaN(pct) && !math.IsInf(pct, 0) {
		// pct*100 + 0.5 is integral only on an exact tie.
		hundredths := new(big.Float).SetPrec(256).SetFloat64(pct)
		hundredths.Mul(hundredths, big.NewFloat(100))
		hundredths.Add(hundredths, big.NewFloat(0.5))
		if hundredths.IsInt() {
			n, _ := hundredths.Int64()
			pct = float64(n) / 100
		}
	}
	return fmt.Sprintf("%.2f%%", pct)
}

// Table formats every detection, filtered or not.
func Table(detections []types.Detection) []TableRow {
	return lo.Map(detections, func(d types.Detection, _ int) TableRow {
		return Row(d)
	})
}
