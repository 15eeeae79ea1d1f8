package app

import (
	"github.com/dokzlo13/tempod/internal/config"
	"github.com/dokzlo13/tempod/internal/hooks"
)

// HookService wraps the Lua runtime running the user script.
type HookService struct {
	cfg     *config.Config
	Runtime *hooks.Runtime
}

// NewHookService creates a new HookService, or nil when no script is configured.
func NewHookService(cfg *config.Config) *HookService {
	if cfg.Script == "" {
		return nil
	}
	return &HookService{
		cfg:     cfg,
		Runtime: hooks.NewRuntime(),
	}
}

// LoadScript loads and executes the Lua script.
// Must be called before the panel loop starts.
func (s *HookService) LoadScript() error {
	return s.Runtime.LoadScript(s.cfg.Script)
}

// Close closes the Lua runtime.
func (s *HookService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
