package hooks

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// logLoader builds the `log` table exposed to scripts
func logLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(logAt(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(logAt(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(logAt(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(logAt(zerolog.ErrorLevel)))
	L.Push(mod)
	return 1
}

func logAt(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(level).Str("source", "lua")
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(key, value lua.LValue) {
				event = event.Interface(lua.LVAsString(key), toGo(value))
			})
		}
		event.Msg(msg)
		return 0
	}
}

func toGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		m := make(map[string]interface{})
		val.ForEach(func(k, v lua.LValue) {
			m[lua.LVAsString(k)] = toGo(v)
		})
		return m
	default:
		if v == lua.LNil {
			return nil
		}
		return v.String()
	}
}
