// Package position converts covering positions between the gateway's
// closure convention and the presentation convention exposed to accessories,
// and decodes a usable position from a device's untyped state list.
//
// Presentation units: 100 is fully open, 0 is fully closed.
// Device units: the gateway's closure percentage, 100 is fully closed.
package position

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"tahoma-go-home/internal/gateway"
)

// ToDeviceUnits converts a presentation position to a gateway closure value.
func ToDeviceUnits(presentation int) int {
	return 100 - presentation
}

// ToPresentationUnits converts a gateway closure value to a presentation position.
func ToPresentationUnits(device int) int {
	return 100 - device
}

// Matcher selects a state entry and maps it to a presentation position.
type Matcher struct {
	Name   string
	Match  func(gateway.State) bool
	Decode func(gateway.State) int
}

// Matchers is the ordered decoding chain. Numeric closure/position states
// take priority over the symbolic open/closed state.
var Matchers = []Matcher{
	{
		Name:  "numeric",
		Match: isNumericPosition,
		Decode: func(st gateway.State) int {
			v, _ := numeric(st.Value)
			return ToPresentationUnits(int(math.Floor(v + 0.5)))
		},
	},
	{
		Name:  "open_closed",
		Match: isOpenClosed,
		Decode: func(st gateway.State) int {
			switch st.Value.(string) {
			case "open":
				return 100
			case "closed":
				return 0
			default:
				return 50
			}
		},
	},
}

// Find returns the first state accepted by match.
func Find(states []gateway.State, match func(gateway.State) bool) (gateway.State, bool) {
	for _, st := range states {
		if match(st) {
			return st, true
		}
	}
	return gateway.State{}, false
}

// Decode returns the device's presentation position. A nil device or one
// without any recognised state decodes to 0.
func Decode(dev *gateway.Device) int {
	if dev == nil {
		return 0
	}
	for _, m := range Matchers {
		if st, ok := Find(dev.States, m.Match); ok {
			return m.Decode(st)
		}
	}
	return 0
}

// Raw returns the undecoded value of the state Decode would use.
func Raw(dev *gateway.Device) (any, bool) {
	if dev == nil {
		return nil, false
	}
	for _, m := range Matchers {
		if st, ok := Find(dev.States, m.Match); ok {
			return st.Value, true
		}
	}
	return nil, false
}

func isNumericPosition(st gateway.State) bool {
	name := strings.ToLower(st.Name)
	if !strings.Contains(name, "closure") && !strings.Contains(name, "position") {
		return false
	}
	_, ok := numeric(st.Value)
	return ok
}

func isOpenClosed(st gateway.State) bool {
	if !strings.Contains(strings.ToLower(st.Name), "openclosed") {
		return false
	}
	_, ok := st.Value.(string)
	return ok
}

// numeric accepts native numbers and strings holding a finite float.
func numeric(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
