// Package hooks runs an optional user Lua script after each display refresh.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/tempod/internal/tempo"
)

// HookName is the global function looked up in the script
const HookName = "on_refresh"

// Runtime owns a Lua VM. Calls are serialized; the VM is not goroutine safe.
type Runtime struct {
	mu      sync.Mutex
	L       *lua.LState
	timeout time.Duration
}

// NewRuntime creates a VM with the log module available both as a global
// and through require("log")
func NewRuntime() *Runtime {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)

	if err := L.CallByParam(lua.P{Fn: L.NewFunction(logLoader), NRet: 1, Protect: true}); err == nil {
		L.SetGlobal("log", L.Get(-1))
		L.Pop(1)
	}

	return &Runtime{L: L, timeout: 2 * time.Second}
}

// LoadScript executes the script file so it can define its hooks
func (r *Runtime) LoadScript(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log.Info().Str("path", path).Msg("Loading Lua script")
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

// LoadString executes a script held in memory
func (r *Runtime) LoadString(src string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.L.DoString(src); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

// HasHook reports whether the loaded script defines on_refresh
func (r *Runtime) HasHook() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.L.GetGlobal(HookName).(*lua.LFunction)
	return ok
}

// OnRefresh calls on_refresh(t) with the values shown on the panel.
// A script without the hook is not an error.
func (r *Runtime) OnRefresh(ctx context.Context, reading tempo.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn, ok := r.L.GetGlobal(HookName).(*lua.LFunction)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	t := r.L.NewTable()
	t.RawSetString("today", lua.LString(reading.Today.String()))
	t.RawSetString("tomorrow", lua.LString(reading.Tomorrow.String()))
	t.RawSetString("today_code", lua.LString(reading.TodayCode))
	t.RawSetString("tomorrow_code", lua.LString(reading.TomorrowCode))
	t.RawSetString("today_date", lua.LString(reading.TodayDate))
	t.RawSetString("tomorrow_date", lua.LString(reading.TomorrowDate))
	t.RawSetString("ip", lua.LString(reading.Address))
	t.RawSetString("source", lua.LString(reading.Source))
	t.RawSetString("refresh_id", lua.LString(reading.RefreshID))

	if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, t); err != nil {
		return fmt.Errorf("%s failed: %w", HookName, err)
	}
	return nil
}

// Close releases the VM
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.L.Close()
}
