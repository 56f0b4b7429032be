package scheduler

import (
	"context"
	"time"

	"github.com/korovkin/limiter"

	"github.com/jake-scott/smartthings-appliances/internal/pkg/cloudapi"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/logging"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/mapper"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/registry"
)

const (
	// DefaultReconcileInterval is the full-state poll period.  Push
	// events carry the day-to-day changes; the poll only repairs drift.
	DefaultReconcileInterval = 7 * 24 * time.Hour

	// DefaultRenewalInterval re-arms push eligibility well inside the
	// vendor's 24 hour expiry window
	DefaultRenewalInterval = 12 * time.Hour

	subscriptionExpiry = 24 * time.Hour

	// bound on concurrent per-device state polls during reconciliation
	maxConcurrentPolls = 5
)

// Scheduler runs the two periodic background tasks: weekly full-state
// reconciliation and push-subscription renewal.  Failures are logged
// and retried at the next cycle, never escalated.
type Scheduler struct {
	cloud cloudapi.ApplianceCloud
	reg   *registry.Registry

	reconcileEvery time.Duration
	renewEvery     time.Duration
}

func New(cloud cloudapi.ApplianceCloud, reg *registry.Registry) *Scheduler {
	return &Scheduler{
		cloud:          cloud,
		reg:            reg,
		reconcileEvery: DefaultReconcileInterval,
		renewEvery:     DefaultRenewalInterval,
	}
}

// WithIntervals overrides the periodic task intervals
func (s *Scheduler) WithIntervals(reconcile, renew time.Duration) *Scheduler {
	s.reconcileEvery = reconcile
	s.renewEvery = renew
	return s
}

// Run blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	reconcile := time.NewTicker(s.reconcileEvery)
	defer reconcile.Stop()

	renew := time.NewTicker(s.renewEvery)
	defer renew.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Logger(nil).Info("scheduler: shutting down")
			return

		case <-reconcile.C:
			s.ReconcileAll(ctx)

		case <-renew.C:
			s.RenewAll(ctx)
		}
	}
}

// ReconcileAll polls full state for every selected device and applies
// the decoded attributes.  One device's failure never blocks the rest.
func (s *Scheduler) ReconcileAll(ctx context.Context) {
	handles := s.reg.Handles()
	logging.Logger(nil).Infof("scheduler: reconciling %d devices", len(handles))

	limit := limiter.NewConcurrencyLimiter(maxConcurrentPolls)
	for _, h := range handles {
		h := h
		limit.Execute(func() {
			if ctx.Err() != nil {
				return
			}
			s.reconcileOne(h)
		})
	}
	limit.WaitAndClose()
}

func (s *Scheduler) reconcileOne(h *registry.DeviceHandle) {
	doc, err := s.cloud.DeviceState(h.ID())
	if err != nil {
		logging.Logger(nil).WithError(err).Errorf("scheduler: polling state for device %s", h.ID())
		return
	}

	updates := mapper.Decode(h.Type(), doc)
	s.reg.ApplyUpdate(h.ID(), updates)
}

// RenewAll refreshes the push-event subscription for every selected
// device.  Failures are retried at the next scheduled cycle.
func (s *Scheduler) RenewAll(ctx context.Context) {
	for _, h := range s.reg.Handles() {
		if ctx.Err() != nil {
			return
		}

		if err := s.cloud.SubscribeEvents(h.ID(), subscriptionExpiry); err != nil {
			logging.Logger(nil).WithError(err).Errorf("scheduler: renewing push subscription for device %s", h.ID())
			continue
		}

		logging.Logger(nil).Debugf("scheduler: renewed push subscription for device %s", h.ID())
	}
}
