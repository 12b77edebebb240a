//go:build !no_automation

package automation

import (
	"context"
	"strings"
	"testing"

	"tahoma-go-home/internal/coordinator"
	"tahoma-go-home/internal/gateway"
)

func TestCoversSetPosition(t *testing.T) {
	e, _, gw := newTestEngine(t, shutter("io://1/1", "Volet Salon", 0))

	res := e.RunLuaCode(`
local ok = covers.set_position("volet salon", 30)
covers.log(tostring(ok))
covers.open("io://1/1")
covers.close("Volet Salon")
`)
	if !res.OK {
		t.Fatalf("RunLuaCode() error = %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "true" {
		t.Errorf("logs = %v", res.Logs)
	}

	calls := gw.execCalls()
	want := []int{70, 0, 100}
	if len(calls) != len(want) {
		t.Fatalf("exec calls = %+v", calls)
	}
	for i, c := range calls {
		if c.command != coordinator.CommandSetClosure || c.value != want[i] {
			t.Errorf("call %d = %+v, want setClosure %d", i, c, want[i])
		}
	}
}

func TestCoversSetPositionFailure(t *testing.T) {
	e, _, gw := newTestEngine(t, shutter("io://1/1", "Volet Salon", 0))

	res := e.RunLuaCode(`
local ok, err = covers.set_position("Garage", 30)
covers.log(tostring(ok))
covers.log(err)
local ok2, err2 = covers.set_position("Volet Salon", 150)
covers.log(tostring(ok2))
`)
	if !res.OK {
		t.Fatalf("RunLuaCode() error = %s", res.Error)
	}
	if len(res.Logs) != 3 || res.Logs[0] != "false" || res.Logs[2] != "false" {
		t.Fatalf("logs = %v", res.Logs)
	}
	if !strings.Contains(res.Logs[1], coordinator.ErrUnknownAccessory.Error()) {
		t.Errorf("error message = %q", res.Logs[1])
	}
	if n := len(gw.execCalls()); n != 0 {
		t.Errorf("exec calls = %d, want 0", n)
	}
}

func TestCoversGetPosition(t *testing.T) {
	e, coord, _ := newTestEngine(t, shutter("io://1/1", "Volet Salon", 30))

	res := e.RunLuaCode(`covers.log(tostring(covers.get_position("Volet Salon")))`)
	if !res.OK || len(res.Logs) != 1 || res.Logs[0] != "nil" {
		t.Fatalf("before poll: %+v", res)
	}

	if err := coord.PollNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	res = e.RunLuaCode(`
covers.log(tostring(covers.get_position("io://1/1")))
covers.log(tostring(covers.get_position("unknown")))
`)
	if !res.OK || len(res.Logs) != 2 || res.Logs[0] != "70" || res.Logs[1] != "nil" {
		t.Errorf("after poll: %+v", res)
	}
}

func TestCoversList(t *testing.T) {
	e, coord, _ := newTestEngine(t,
		shutter("io://1/1", "Volet Salon", 0),
		shutter("io://1/2", "Volet Cuisine", 100),
		gateway.Device{DeviceURL: "io://1/3", Label: "Lampe", Definition: gateway.Definition{WidgetName: "OnOffLight"}},
	)
	if err := coord.PollNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	res := e.RunLuaCode(`
local all = covers.list()
covers.log(#all)
for _, c in ipairs(all) do
    covers.log(c.name .. "=" .. c.current .. "/" .. c.state)
end
`)
	if !res.OK {
		t.Fatalf("RunLuaCode() error = %s", res.Error)
	}
	want := []string{"2", "Volet Cuisine=0/stopped", "Volet Salon=100/stopped"}
	if strings.Join(res.Logs, ",") != strings.Join(want, ",") {
		t.Errorf("logs = %v, want %v", res.Logs, want)
	}
}

func TestCoversOnLimit(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
for i = 1, 101 do
    covers.on("cover_update", function(ev) end)
end
`)
	if res.OK || !strings.Contains(res.Error, "too many handlers") {
		t.Errorf("RunLuaCode() = %+v, want handler limit error", res)
	}
}
