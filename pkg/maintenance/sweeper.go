package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/keys"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// SweeperActor is the principal recorded on records the sweeper revokes.
const SweeperActor = "system"

// Sweeper performs the periodic lifecycle transitions: deactivating keys
// whose expiration has passed and revoking keys whose rotation grace period
// has elapsed.
type Sweeper struct {
	store   storage.KeyStore
	auditor audit.Logger
	logger  *observability.Logger
	metrics *observability.Metrics

	now func() time.Time
}

// NewSweeper creates a sweeper. The audit logger may be audit.NopLogger{}.
func NewSweeper(store storage.KeyStore, auditor audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	return &Sweeper{
		store:   store,
		auditor: auditor,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SweepExpired deactivates active keys whose expiration instant has passed.
// Expiration is not revocation: the record keeps a nil RevokedAt so its
// derived status stays EXPIRED, and a later authentication attempt is
// refused as expired rather than revoked. Returns the number of keys
// transitioned.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	start := s.now()
	active, err := s.store.FindByActiveStatus(ctx, true)
	if err != nil {
		s.observe("expiration", start, 0, err)
		return 0, fmt.Errorf("failed to list active keys: %w", err)
	}

	now := start.UTC()
	swept := 0
	for _, key := range active {
		if key.RevokedAt != nil || !key.IsExpiredAt(now) {
			continue
		}

		key.IsActive = false
		if err := s.store.Save(ctx, key); err != nil {
			s.observe("expiration", start, swept, err)
			return swept, fmt.Errorf("failed to deactivate key %s: %w", key.ID, err)
		}
		swept++

		s.auditTransition(ctx, key, "expire", map[string]interface{}{
			"expired_at": key.ExpiresAt.Format(time.RFC3339),
		})
		if s.logger != nil {
			s.logger.WithFields(map[string]interface{}{
				"key_id": key.ID,
				"kind":   string(key.Kind),
			}).Info("deactivated expired key")
		}
	}

	s.observe("expiration", start, swept, nil)
	return swept, nil
}

// SweepGracePeriods revokes rotated-out keys whose grace window has elapsed.
// Unlike expiration this is a full revocation: the old secret was replaced
// and must never authenticate again.
func (s *Sweeper) SweepGracePeriods(ctx context.Context) (int, error) {
	start := s.now()
	active, err := s.store.FindByActiveStatus(ctx, true)
	if err != nil {
		s.observe("grace", start, 0, err)
		return 0, fmt.Errorf("failed to list active keys: %w", err)
	}

	now := start.UTC()
	swept := 0
	for _, key := range active {
		if key.GracePeriodEndsAt == nil || key.GracePeriodEndsAt.After(now) {
			continue
		}
		if key.RevokedAt != nil {
			continue
		}

		key.Revoke(SweeperActor, now)
		if err := s.store.Save(ctx, key); err != nil {
			s.observe("grace", start, swept, err)
			return swept, fmt.Errorf("failed to revoke key %s: %w", key.ID, err)
		}
		swept++

		s.auditTransition(ctx, key, "revoke", map[string]interface{}{
			"reason":               "rotation grace period elapsed",
			"grace_period_ends_at": key.GracePeriodEndsAt.Format(time.RFC3339),
		})
		if s.logger != nil {
			s.logger.WithFields(map[string]interface{}{
				"key_id": key.ID,
				"kind":   string(key.Kind),
			}).Info("revoked key past rotation grace period")
		}
	}

	s.observe("grace", start, swept, nil)
	return swept, nil
}

// RefreshGauges recomputes the key population gauges. Called after each
// sweep and on a slow timer so the metrics survive restarts.
func (s *Sweeper) RefreshGauges(ctx context.Context) error {
	if s.metrics == nil {
		return nil
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count keys: %w", err)
	}
	active, err := s.store.FindByActiveStatus(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to list active keys: %w", err)
	}
	s.metrics.KeysTotal.Set(float64(total))
	s.metrics.KeysActive.Set(float64(len(active)))
	return nil
}

func (s *Sweeper) auditTransition(ctx context.Context, key *keys.Key, action string, extra map[string]interface{}) {
	detail := map[string]interface{}{
		"action":        action,
		"kind":          string(key.Kind),
		"display_name":  key.DisplayName,
		"secret_prefix": key.SecretPrefix,
	}
	for k, v := range extra {
		detail[k] = v
	}

	event := audit.NewEvent(audit.EventTypeLifecycleChange, SweeperActor, key.ID, detail)
	if err := s.auditor.Log(ctx, event); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("audit sink unavailable")
	}
}

func (s *Sweeper) observe(sweep string, start time.Time, transitions int, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.SweepRunsTotal.WithLabelValues(sweep, status).Inc()
	s.metrics.SweepDuration.WithLabelValues(sweep).Observe(time.Since(start).Seconds())
	if transitions > 0 {
		s.metrics.SweepTransitionsTotal.WithLabelValues(sweep).Add(float64(transitions))
	}
}
