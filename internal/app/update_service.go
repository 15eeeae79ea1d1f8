package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/ledger"
	"github.com/dokzlo13/tempod/internal/ota"
)

// Updater checks for and installs releases
type Updater interface {
	Check(ctx context.Context) (*ota.Release, bool, error)
	Apply(ctx context.Context, rel *ota.Release) error
}

// UpdateService runs the startup self-update check.
type UpdateService struct {
	updater Updater
	ledger  *ledger.Ledger
	current string
}

// NewUpdateService creates a new UpdateService. l may be nil.
func NewUpdateService(u Updater, l *ledger.Ledger, current string) *UpdateService {
	return &UpdateService{updater: u, ledger: l, current: current}
}

// Run checks once and installs a newer release. It reports whether the
// running binary was replaced; failures are logged and never fatal.
func (s *UpdateService) Run(ctx context.Context) bool {
	log.Info().Str("current", s.current).Msg("Checking for updates")

	rel, newer, err := s.updater.Check(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Update check failed")
		s.append(ledger.EventUpdateFailed, "", map[string]any{"stage": "check", "error": err.Error()})
		return false
	}

	s.append(ledger.EventUpdateChecked, rel.TagName, map[string]any{
		"current": s.current,
		"latest":  rel.TagName,
		"newer":   newer,
	})

	if !newer {
		log.Info().Str("latest", rel.TagName).Msg("No update available")
		return false
	}

	log.Info().Str("latest", rel.TagName).Msg("Update available, installing")
	if err := s.updater.Apply(ctx, rel); err != nil {
		if errors.Is(err, ota.ErrNoAsset) {
			log.Warn().Err(err).Str("latest", rel.TagName).Msg("No binary published for this platform")
		} else {
			log.Error().Err(err).Str("latest", rel.TagName).Msg("Update failed")
		}
		s.append(ledger.EventUpdateFailed, rel.TagName, map[string]any{"stage": "apply", "error": err.Error()})
		return false
	}

	s.append(ledger.EventUpdateApplied, rel.TagName, map[string]any{
		"from": s.current,
		"to":   rel.TagName,
	})
	return true
}

func (s *UpdateService) append(t ledger.EventType, ref string, payload map[string]any) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Append(t, ref, payload); err != nil {
		log.Warn().Err(err).Str("event", string(t)).Msg("Failed to append to ledger")
	}
}
