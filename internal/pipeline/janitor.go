// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

package pipeline

import (
	"context"

	"github.com/vigia-news/vigia/internal/logging"
)

// runJanitor returns claims held longer than the configured threshold to
// their input states. This is the only path that takes a claim away from a
// worker, which is why it ships disabled: on a single instance a stuck claim
// means a crashed run, and releasing it is safe, but anyone running several
// instances against one database must size stale_claim_after well above the
// slowest plausible stage run before turning it on.
func (m *Manager) runJanitor(ctx context.Context) {
	if !m.cfg.Pipeline.JanitorEnabled {
		return
	}

	released, err := m.store.ReleaseStaleClaims(ctx, m.cfg.Pipeline.StaleClaimAfter)
	if err != nil {
		logging.Error().Err(err).Msg("Stale claim sweep failed")
		return
	}
	if released > 0 {
		logging.Warn().
			Int64("released", released).
			Dur("older_than", m.cfg.Pipeline.StaleClaimAfter).
			Msg("Stale claims returned to their input states")
	}
}
