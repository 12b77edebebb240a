package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tahoma-go-home/internal/gateway"
	"tahoma-go-home/internal/store"
)

func TestAccessoryIDDeterministic(t *testing.T) {
	a := AccessoryID("io://1234-5678-9012/11223344")
	b := AccessoryID("io://1234-5678-9012/11223344")
	c := AccessoryID("io://1234-5678-9012/11223345")
	if a != b {
		t.Errorf("same url gave %s and %s", a, b)
	}
	if a == c {
		t.Error("different urls gave the same id")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	reg, _, _ := newTestRegistry(t, &fakeGateway{})
	devices := []gateway.Device{
		shutter("io://1/1", "Volet Salon", 0),
		shutter("io://1/2", "Volet Cuisine", 0),
	}

	first := reg.Reconcile(devices, devices)
	if len(first.Created) != 2 {
		t.Fatalf("created = %d, want 2", len(first.Created))
	}

	second := reg.Reconcile(devices, devices)
	if second.Changed() {
		t.Errorf("second reconcile = %+v, want no changes", second)
	}
	if reg.Len() != 2 {
		t.Errorf("len = %d, want 2", reg.Len())
	}
}

func TestReconcileRemovesVanishedDevice(t *testing.T) {
	reg, _, st := newTestRegistry(t, &fakeGateway{})
	devices := []gateway.Device{
		shutter("io://1/1", "Volet Salon", 0),
		shutter("io://1/2", "Volet Cuisine", 0),
	}
	reg.Reconcile(devices, devices)

	remaining := devices[:1]
	res := reg.Reconcile(remaining, remaining)
	if len(res.Removed) != 1 || res.Removed[0] != AccessoryID("io://1/2") {
		t.Fatalf("removed = %v", res.Removed)
	}
	if _, err := st.GetAccessory(AccessoryID("io://1/2")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("removed accessory still persisted: %v", err)
	}
}

func TestReconcileRemovesFilteredDevice(t *testing.T) {
	reg, _, _ := newTestRegistry(t, &fakeGateway{})
	devices := []gateway.Device{
		shutter("io://1/1", "Volet Salon", 0),
		shutter("io://1/2", "Volet Cuisine", 0),
	}
	reg.Reconcile(devices, devices)

	// Device still exists but no longer passes the filter.
	res := reg.Reconcile(devices, devices[:1])
	if len(res.Removed) != 1 || res.Removed[0] != AccessoryID("io://1/2") {
		t.Fatalf("removed = %v", res.Removed)
	}
	if _, err := reg.Get(AccessoryID("io://1/1")); err != nil {
		t.Errorf("kept accessory missing: %v", err)
	}
}

func TestReconcileRenames(t *testing.T) {
	reg, events, st := newTestRegistry(t, &fakeGateway{})
	var renamed []string
	events.On(EventAccessoryRenamed, func(e Event) {
		renamed = append(renamed, e.Data.(map[string]interface{})["name"].(string))
	})

	devices := []gateway.Device{shutter("io://1/1", "Volet Salon", 0)}
	reg.Reconcile(devices, devices)

	devices[0].Label = "Volet Séjour"
	res := reg.Reconcile(devices, devices)
	if len(res.Updated) != 1 {
		t.Fatalf("updated = %v", res.Updated)
	}
	if len(renamed) != 1 || renamed[0] != "Volet Séjour" {
		t.Errorf("renamed events = %v", renamed)
	}
	rec, err := st.GetAccessory(AccessoryID("io://1/1"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.DisplayName != "Volet Séjour" {
		t.Errorf("persisted name = %q", rec.DisplayName)
	}
}

func TestReconcileFallbackName(t *testing.T) {
	reg, _, _ := newTestRegistry(t, &fakeGateway{})
	devices := []gateway.Device{
		shutter("io://1/1", "Volet Salon", 0),
		{DeviceURL: "io://1/2"},
	}
	reg.Reconcile(devices, devices)

	acc, err := reg.Get(AccessoryID("io://1/2"))
	if err != nil {
		t.Fatal(err)
	}
	if acc.DisplayName != "Volet 2" {
		t.Errorf("name = %q, want Volet 2", acc.DisplayName)
	}
	if acc.Model != "RollerShutter" {
		t.Errorf("model = %q, want RollerShutter", acc.Model)
	}
	if acc.LastKnownPosition != nil {
		t.Error("new accessory should have no known position")
	}
}

func TestResolve(t *testing.T) {
	reg, _, _ := newTestRegistry(t, &fakeGateway{})
	devices := []gateway.Device{shutter("io://1/1", "Volet Salon", 0)}
	reg.Reconcile(devices, devices)
	id := AccessoryID("io://1/1")

	for _, ref := range []string{id, "io://1/1", "volet salon"} {
		acc, err := reg.Resolve(ref)
		if err != nil {
			t.Errorf("Resolve(%q): %v", ref, err)
			continue
		}
		if acc.ID != id {
			t.Errorf("Resolve(%q) = %s", ref, acc.ID)
		}
	}
	if _, err := reg.Resolve("nope"); !errors.Is(err, ErrUnknownAccessory) {
		t.Errorf("err = %v, want ErrUnknownAccessory", err)
	}
}

func TestAdvanceSequence(t *testing.T) {
	acc := &Accessory{Cover: Cover{State: StateStopped}}

	steps := []struct {
		pos         int
		wantChanged bool
		wantState   PositionState
		wantCurrent int
		wantTarget  int
		wantStable  int
	}{
		{40, true, StateStopped, 40, 40, 0},
		{40, false, StateStopped, 40, 40, 1},
		{55, true, StateIncreasing, 55, 40, 0},
		{55, false, StateIncreasing, 55, 40, 1},
		{55, true, StateStopped, 55, 55, 2},
		{55, false, StateStopped, 55, 55, 3},
		{20, true, StateDecreasing, 20, 55, 0},
	}

	for i, s := range steps {
		changed := advance(acc, s.pos)
		if changed != s.wantChanged {
			t.Errorf("step %d: changed = %v, want %v", i, changed, s.wantChanged)
		}
		if acc.Cover.State != s.wantState {
			t.Errorf("step %d: state = %s, want %s", i, acc.Cover.State, s.wantState)
		}
		if acc.Cover.Current != s.wantCurrent || acc.Cover.Target != s.wantTarget {
			t.Errorf("step %d: current/target = %d/%d, want %d/%d", i,
				acc.Cover.Current, acc.Cover.Target, s.wantCurrent, s.wantTarget)
		}
		if acc.StableCycles != s.wantStable {
			t.Errorf("step %d: stable = %d, want %d", i, acc.StableCycles, s.wantStable)
		}
		if acc.LastKnownPosition == nil || *acc.LastKnownPosition != s.pos {
			t.Errorf("step %d: last known = %v, want %d", i, acc.LastKnownPosition, s.pos)
		}
	}
}

func TestAdvanceFirstObservationAtZero(t *testing.T) {
	acc := &Accessory{Cover: Cover{State: StateStopped}}
	if !advance(acc, 0) {
		t.Fatal("first observation at 0 must count as a change")
	}
	if acc.LastKnownPosition == nil || *acc.LastKnownPosition != 0 {
		t.Errorf("last known = %v, want 0", acc.LastKnownPosition)
	}
}

func TestApplyDevicesSkipsMissingDevice(t *testing.T) {
	reg, events, _ := newTestRegistry(t, &fakeGateway{})
	devices := []gateway.Device{
		shutter("io://1/1", "Volet Salon", 60),
		shutter("io://1/2", "Volet Cuisine", 10),
	}
	reg.Reconcile(devices, devices)

	var updates int
	events.On(EventCoverUpdate, func(Event) { updates++ })

	reg.ApplyDevices(devices[:1])
	if updates != 1 {
		t.Errorf("updates = %d, want 1", updates)
	}
	acc, _ := reg.Get(AccessoryID("io://1/1"))
	if acc.Cover.Current != 40 {
		t.Errorf("current = %d, want 40", acc.Cover.Current)
	}
	missing, _ := reg.Get(AccessoryID("io://1/2"))
	if missing.LastKnownPosition != nil {
		t.Error("accessory with missing device was touched")
	}
}

func TestApplyDevicesClearsFinishedExecution(t *testing.T) {
	reg, _, _ := newTestRegistry(t, &fakeGateway{})
	dev := shutter("io://1/1", "Volet Salon", 60)
	devices := []gateway.Device{dev}
	reg.Reconcile(devices, devices)

	id := AccessoryID("io://1/1")
	reg.mu.Lock()
	reg.accessories[id].PendingExecID = "exec-1"
	reg.mu.Unlock()

	dev.Executions = []gateway.Execution{{ExecID: "exec-1", Status: gateway.ExecutionInProgress}}
	reg.ApplyDevices([]gateway.Device{dev})
	if acc, _ := reg.Get(id); acc.PendingExecID != "exec-1" {
		t.Errorf("pending = %q, want exec-1 while running", acc.PendingExecID)
	}

	dev.Executions = nil
	reg.ApplyDevices([]gateway.Device{dev})
	if acc, _ := reg.Get(id); acc.PendingExecID != "" {
		t.Errorf("pending = %q, want cleared", acc.PendingExecID)
	}
}

func TestOnReadCurrentPosition(t *testing.T) {
	reg, _, _ := newTestRegistry(t, &fakeGateway{})
	devices := []gateway.Device{shutter("io://1/1", "Volet Salon", 25)}
	reg.Reconcile(devices, devices)
	id := AccessoryID("io://1/1")

	pos, err := reg.OnReadCurrentPosition(id)
	if err != nil || pos != 0 {
		t.Errorf("before poll = %d, %v; want 0, nil", pos, err)
	}

	reg.ApplyDevices(devices)
	pos, err = reg.OnReadCurrentPosition(id)
	if err != nil || pos != 75 {
		t.Errorf("after poll = %d, %v; want 75, nil", pos, err)
	}

	if _, err := reg.OnReadCurrentPosition("missing"); !errors.Is(err, ErrUnknownAccessory) {
		t.Errorf("err = %v, want ErrUnknownAccessory", err)
	}
}

func TestOnWriteTargetPositionEchoesTarget(t *testing.T) {
	gw := &fakeGateway{execIDs: map[string]string{CommandSetClosure: "exec-42"}}
	reg, events, _ := newTestRegistry(t, gw)
	devices := []gateway.Device{shutter("io://1/1", "Volet Salon", 100)}
	reg.Reconcile(devices, devices)
	reg.ApplyDevices(devices)
	id := AccessoryID("io://1/1")

	var mu sync.Mutex
	var seen []string
	events.OnAll(func(e Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	execID, err := reg.OnWriteTargetPosition(context.Background(), id, 80)
	if err != nil {
		t.Fatal(err)
	}
	if execID != "exec-42" {
		t.Errorf("exec id = %q, want exec-42", execID)
	}

	acc, _ := reg.Get(id)
	if acc.Cover.Target != 80 {
		t.Errorf("target = %d, want 80", acc.Cover.Target)
	}
	if acc.Cover.Current != 0 {
		t.Errorf("current = %d, want untouched 0", acc.Cover.Current)
	}
	if acc.PendingExecID != "exec-42" {
		t.Errorf("pending = %q", acc.PendingExecID)
	}

	calls := gw.execCalls()
	if len(calls) != 1 || calls[0].command != CommandSetClosure || calls[0].params[0] != 20 {
		t.Errorf("calls = %+v, want setClosure(20)", calls)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != EventCoverUpdate || seen[1] != EventCommandSent {
		t.Errorf("events = %v", seen)
	}
}

func TestOnWriteTargetPositionFailureKeepsEcho(t *testing.T) {
	gw := &fakeGateway{execErr: map[string]error{
		CommandSetClosure:  errors.New("primary"),
		CommandSetPosition: errors.New("fallback"),
	}}
	reg, _, _ := newTestRegistry(t, gw)
	devices := []gateway.Device{shutter("io://1/1", "Volet Salon", 100)}
	reg.Reconcile(devices, devices)
	id := AccessoryID("io://1/1")

	_, err := reg.OnWriteTargetPosition(context.Background(), id, 30)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err = %v, want *CommandError", err)
	}
	acc, _ := reg.Get(id)
	if acc.Cover.Target != 30 {
		t.Errorf("target = %d, want echoed 30", acc.Cover.Target)
	}
	if acc.PendingExecID != "" {
		t.Errorf("pending = %q, want empty", acc.PendingExecID)
	}
}

func TestOnWriteTargetPositionValidation(t *testing.T) {
	reg, _, _ := newTestRegistry(t, &fakeGateway{})
	if _, err := reg.OnWriteTargetPosition(context.Background(), "x", 101); !errors.Is(err, ErrInvalidPosition) {
		t.Errorf("err = %v, want ErrInvalidPosition", err)
	}
	if _, err := reg.OnWriteTargetPosition(context.Background(), "x", 50); !errors.Is(err, ErrUnknownAccessory) {
		t.Errorf("err = %v, want ErrUnknownAccessory", err)
	}
}

func TestLoadRestoresRecords(t *testing.T) {
	reg, _, st := newTestRegistry(t, &fakeGateway{})
	rec := &store.Accessory{ID: AccessoryID("io://1/1"), DeviceURL: "io://1/1", DisplayName: "Volet Salon"}
	if err := st.SaveAccessory(rec); err != nil {
		t.Fatal(err)
	}

	if err := reg.Load(); err != nil {
		t.Fatal(err)
	}
	acc, err := reg.Get(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if acc.LastKnownPosition != nil {
		t.Error("restored accessory should start without a known position")
	}

	devices := []gateway.Device{shutter("io://1/1", "Volet Salon", 0)}
	if res := reg.Reconcile(devices, devices); res.Changed() {
		t.Errorf("reconcile after load = %+v, want no changes", res)
	}
}
