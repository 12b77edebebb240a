//go:build !no_automation

package automation

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

var clockNow = time.Now

// registerClockModule installs the `clock` global table.
func registerClockModule(L *lua.LState) {
	mod := L.NewTable()
	mod.RawSetString("now", L.NewFunction(clockComponent))
	mod.RawSetString("between", L.NewFunction(clockBetween))
	L.SetGlobal("clock", mod)
}

// clock.now(component)
func clockComponent(L *lua.LState) int {
	component := L.OptString(1, "timestamp")
	now := clockNow()

	switch component {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "day":
		L.Push(lua.LNumber(now.Day()))
	case "month":
		L.Push(lua.LNumber(now.Month()))
	case "year":
		L.Push(lua.LNumber(now.Year()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time":
		L.Push(lua.LString(now.Format("15:04")))
	case "date":
		L.Push(lua.LString(now.Format("2006-01-02")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// clock.between(from_hour, to_hour) reports whether the current hour lies in
// [from, to). A range with from > to wraps past midnight.
func clockBetween(L *lua.LState) int {
	from := L.CheckInt(1)
	to := L.CheckInt(2)
	L.Push(lua.LBool(hourBetween(clockNow().Hour(), from, to)))
	return 1
}

func hourBetween(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}
