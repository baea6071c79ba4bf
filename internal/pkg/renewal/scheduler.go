package renewal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/DuesFox/app/models"
	"github.com/ManuelReschke/DuesFox/app/repository"
	"github.com/ManuelReschke/DuesFox/internal/pkg/cache"
	"github.com/ManuelReschke/DuesFox/internal/pkg/clock"
	"github.com/ManuelReschke/DuesFox/internal/pkg/gateway"
	"github.com/ManuelReschke/DuesFox/internal/pkg/metrics"
	"github.com/ManuelReschke/DuesFox/internal/pkg/notifier"
)

var (
	// ErrTickInProgress is returned when another tick holds the scheduler,
	// in this process or, with a Locker, in another one.
	ErrTickInProgress = errors.New("renewal tick already in progress")
	// ErrDirectoryUnavailable aborts a tick before any member is touched.
	ErrDirectoryUnavailable = errors.New("member directory unavailable")
	// ErrChargeNotSucceeded is returned by ConfirmCharge for charges that
	// are pending or canceled.
	ErrChargeNotSucceeded = errors.New("charge has not succeeded")
)

// Unlocker releases a lock taken by a Locker.
type Unlocker interface {
	Release(ctx context.Context) error
}

// Locker provides a lock shared by every process running the scheduler.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Unlocker, error)
}

type redisLocker struct {
	locker *cache.Locker
}

// RedisLocker adapts a cache.Locker. Held locks surface as ErrTickInProgress.
func RedisLocker(l *cache.Locker) Locker {
	return redisLocker{locker: l}
}

func (r redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Unlocker, error) {
	lock, err := r.locker.Acquire(ctx, name, ttl)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, ErrTickInProgress
		}
		return nil, err
	}
	return lock, nil
}

// Dependencies are the collaborators a Scheduler drives. Clock defaults to
// the system clock; Locker and Metrics are optional.
type Dependencies struct {
	Members  repository.MemberRepository
	Gateway  gateway.Gateway
	Notifier notifier.Notifier
	Clock    clock.Clock
	Locker   Locker
	Metrics  *metrics.RenewalMetrics
}

// Scheduler reconciles every member's billing cycle once per tick.
type Scheduler struct {
	members  repository.MemberRepository
	gateway  gateway.Gateway
	notifier notifier.Notifier
	clock    clock.Clock
	locker   Locker
	metrics  *metrics.RenewalMetrics
	cfg      Config

	running   atomic.Bool
	attemptID func(memberID int64, day time.Time) string
}

// Namespace of attempt ids. Changing it breaks same-day dedup at the gateway.
var attemptNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://duesfox/renewal-attempt"))

// AttemptID is the idempotence key of the charge for memberID on day. A
// replay on the same day gets the gateway's original charge back.
func AttemptID(memberID int64, day time.Time) string {
	name := fmt.Sprintf("%d:%s", memberID, clock.DateOf(day).Format(time.DateOnly))
	return uuid.NewSHA1(attemptNamespace, []byte(name)).String()
}

func NewScheduler(deps Dependencies, cfg Config) *Scheduler {
	c := deps.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Scheduler{
		members:   deps.Members,
		gateway:   deps.Gateway,
		notifier:  deps.Notifier,
		clock:     c,
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		cfg:       cfg.withDefaults(),
		attemptID: AttemptID,
	}
}

func (s *Scheduler) Config() Config {
	return s.cfg
}

// Today is the scheduler's current calendar date.
func (s *Scheduler) Today() time.Time {
	return clock.Today(s.clock, s.cfg.Location)
}

// pending is a notification held back until the member's transaction commits.
type pending struct {
	toOperators bool
	msg         notifier.Message
}

type memberResult struct {
	outcome Outcome
	warned  bool
}

// RunOnce performs one tick over all members. Cancelling ctx stops new
// members from starting; members already in progress finish their
// transaction.
func (s *Scheduler) RunOnce(ctx context.Context) (*TickReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.ObserveTick("skipped", 0, time.Time{})
		return nil, ErrTickInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		lock, err := s.locker.Acquire(ctx, s.cfg.LockName, s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, ErrTickInProgress) {
				s.metrics.ObserveTick("skipped", 0, time.Time{})
				return nil, ErrTickInProgress
			}
			s.metrics.ObserveTick("aborted", 0, time.Time{})
			return nil, fmt.Errorf("acquire tick lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warnf("[Renewal] Failed to release tick lock: %v", err)
			}
		}()
	}

	started := s.clock.Now()
	today := s.Today()
	report := newTickReport(started, today)
	log.Infof("[Renewal] Tick started for %s", report.Today)

	if err := s.members.Ping(ctx); err != nil {
		s.metrics.ObserveTick("aborted", 0, time.Time{})
		log.Errorf("[Renewal] Tick aborted, directory ping failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	members, err := s.members.List(ctx)
	if err != nil {
		s.metrics.ObserveTick("aborted", 0, time.Time{})
		log.Errorf("[Renewal] Tick aborted, listing members failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	report.Members = len(members)

	// in-flight members must not see the tick's cancellation
	work := context.WithoutCancel(ctx)
	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup

dispatch:
	for _, m := range members {
		if !m.IsSchedulable() {
			log.Debugf("[Renewal] Member %d exempt: no last payment date or stored payment method", m.ID)
			s.finish(report, memberResult{outcome: OutcomeSkipped})
			continue
		}

		select {
		case <-ctx.Done():
			report.Interrupted = true
			break dispatch
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-sem
			report.Interrupted = true
			break dispatch
		}

		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			s.finish(report, s.processMember(work, id, today))
		}(m.ID)
	}
	wg.Wait()

	report.FinishedAt = s.clock.Now()
	if report.Interrupted {
		log.Warnf("[Renewal] Tick for %s interrupted after %d/%d members", report.Today, report.Processed(), report.Members)
	}
	s.metrics.ObserveTick("completed", report.FinishedAt.Sub(started), report.FinishedAt)
	log.Infof("[Renewal] Tick finished for %s: members=%d skipped=%d warned=%d charged=%d failed=%d escalated=%d errored=%d",
		report.Today, report.Members, report.Skipped, report.Warned, report.Charged, report.Failed, report.Escalated, report.Errored)
	return report, nil
}

func (s *Scheduler) finish(report *TickReport, res memberResult) {
	report.record(res.outcome, res.warned)
	s.metrics.IncMember(string(res.outcome))
}

// processMember runs read-decide-write for one member inside its row lock.
// Notifications go out only after the transaction committed.
func (s *Scheduler) processMember(ctx context.Context, id int64, today time.Time) (res memberResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Renewal] Member %d skipped after panic: %v", id, r)
			res = memberResult{outcome: OutcomeErrored}
		}
	}()

	var (
		member  models.Member
		notices []pending
		charged *gateway.Charge
		update  *models.BillingUpdate
	)
	res.outcome = OutcomeSkipped

	err := s.members.WithMemberLock(ctx, id, func(tx repository.MemberRepository, m *models.Member) error {
		member = *m
		d := Decide(member, today)
		update = models.NewBillingUpdate()

		if d.WarnPreExpiry {
			update.SetPreExpiryNotifiedDate(today)
			notices = append(notices, pending{msg: notifier.PreExpiryWarning()})
			res.warned = true
		}

		switch d.Action {
		case ActionSkip:
			log.Debugf("[Renewal] Member %d skipped: %s", m.ID, d.Reason)

		case ActionEscalate:
			log.Infof("[Renewal] Member %d unpaid %d days past deadline %s, escalating to operators",
				m.ID, models.EscalationGraceDays, d.Cycle.Deadline.Format(time.DateOnly))
			update.SetAdminNotifiedDate(today)
			notices = append(notices, pending{toOperators: true, msg: notifier.OperatorEscalation(member)})
			res.outcome = OutcomeEscalated

		case ActionCharge:
			if member.Contribution <= 0 {
				log.Errorf("[Renewal] Member %d has contribution %d, not charging", m.ID, member.Contribution)
				res.outcome = OutcomeErrored
				break
			}
			charge, cerr := s.charge(ctx, member, today)
			if cerr == nil && charge.Succeeded() {
				log.Infof("[Renewal] Member %d renewed, charge %s", m.ID, charge.ID)
				charged = charge
				update.StartNewCycle(today)
				if charge.PaymentMethodID != "" && charge.PaymentMethodID != member.StoredMethodID() {
					update.SetPaymentMethodID(charge.PaymentMethodID)
				}
				notices = append(notices, pending{msg: notifier.RenewalSucceeded()})
				res.outcome = OutcomeCharged
				break
			}

			switch {
			case gateway.Temporary(cerr):
				log.Warnf("[Renewal] Charge for member %d failed (%s), counted as a failed attempt: %v", m.ID, gateway.KindOf(cerr), cerr)
			case cerr != nil:
				log.Errorf("[Renewal] Charge for member %d failed (%s): %v", m.ID, gateway.KindOf(cerr), cerr)
			default:
				log.Warnf("[Renewal] Charge %s for member %d not successful: status=%s reason=%s",
					charge.ID, m.ID, charge.Status, charge.CancellationReason)
			}
			update.SetLastFailedPaymentDate(today)
			if !knownFailureOffset(d.DaysSinceFail) {
				log.Errorf("[Renewal] Member %d failed on unexpected day offset %d, no notice sent", m.ID, *d.DaysSinceFail)
			} else if days, notify := RetryNotice(d.DaysSinceFail); notify {
				notices = append(notices, pending{msg: notifier.RetryScheduled(days)})
			}
			res.outcome = OutcomeFailed
		}

		if update.IsEmpty() {
			return nil
		}
		return tx.UpdateBillingFields(ctx, m.ID, update)
	})

	if err != nil {
		if charged != nil {
			log.Errorf("[Renewal] Charge %s for member %d succeeded but was not recorded: %v", charged.ID, id, err)
			s.send(ctx, member, pending{toOperators: true, msg: notifier.OperatorWriteFailure(member, charged.ID)})
		} else {
			var columns []string
			if update != nil {
				columns = update.ColumnNames()
			}
			log.Errorf("[Renewal] Member %d rolled back, columns %v not written: %v", id, columns, err)
		}
		return memberResult{outcome: OutcomeErrored}
	}

	for _, n := range notices {
		s.send(ctx, member, n)
	}
	return res
}

// charge issues one create-charge call bounded by GatewayTimeout.
func (s *Scheduler) charge(ctx context.Context, m models.Member, today time.Time) (*gateway.Charge, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	req := gateway.ChargeRequest{
		Amount:          decimal.NewFromInt(m.Contribution),
		Currency:        s.cfg.Currency,
		PaymentMethodID: m.StoredMethodID(),
		Capture:         true,
		Description:     "Annual membership contribution: " + m.Status,
		Metadata: gateway.Metadata{
			SubscriberID: m.ID,
			AttemptID:    s.attemptID(m.ID, today),
		},
	}
	log.Infof("[Renewal] Charging member %d %s %s (attempt %s)", m.ID, req.Amount.StringFixed(2), req.Currency, req.Metadata.AttemptID)

	charge, err := s.gateway.CreateCharge(ctx, req)
	if err == nil && charge == nil {
		err = gateway.NewError(gateway.KindDecode, 0, errors.New("empty charge"))
	}
	if err != nil && gateway.KindOf(err) == "" {
		kind := gateway.KindTransport
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = gateway.KindTimeout
		}
		err = gateway.NewError(kind, 0, err)
	}

	switch {
	case err != nil:
		s.metrics.IncGatewayCall(string(gateway.KindOf(err)))
	case charge.Succeeded():
		s.metrics.IncGatewayCall("succeeded")
	default:
		s.metrics.IncGatewayCall("declined")
	}
	return charge, err
}

func (s *Scheduler) send(ctx context.Context, member models.Member, n pending) {
	var err error
	if n.toOperators {
		err = s.notifier.NotifyOperators(ctx, n.msg)
	} else {
		err = s.notifier.NotifyMember(ctx, member, n.msg)
	}
	s.metrics.IncNotification(string(n.msg.Template), err == nil)
	if err != nil {
		log.Warnf("[Renewal] Notification %s for member %d not delivered: %v", n.msg.Template, member.ID, err)
	}
}

// RecordPayment stores a payment made outside the tick (manual or
// asynchronous confirmation) and starts a new cycle on paidOn. It is the
// only way out of the escalated state.
func (s *Scheduler) RecordPayment(ctx context.Context, memberID int64, paidOn time.Time, methodID string) (*models.Member, error) {
	var updated models.Member
	err := s.members.WithMemberLock(ctx, memberID, func(tx repository.MemberRepository, m *models.Member) error {
		update := models.NewBillingUpdate().StartNewCycle(paidOn)
		if methodID != "" {
			update.SetPaymentMethodID(methodID)
		}
		if err := tx.UpdateBillingFields(ctx, m.ID, update); err != nil {
			return err
		}
		updated = *m
		update.Apply(&updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Renewal] Recorded payment for member %d on %s", memberID, clock.DateOf(paidOn).Format(time.DateOnly))
	return &updated, nil
}

// ConfirmCharge looks up a charge and, when it succeeded, records it as
// today's payment with the charge's payment method.
func (s *Scheduler) ConfirmCharge(ctx context.Context, memberID int64, chargeID string) (*gateway.Charge, *models.Member, error) {
	lookup, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	charge, err := s.gateway.FindCharge(lookup, chargeID)
	if err != nil {
		return nil, nil, fmt.Errorf("find charge %s: %w", chargeID, err)
	}
	if !charge.Succeeded() {
		return charge, nil, fmt.Errorf("%w: %s is %s", ErrChargeNotSucceeded, charge.ID, charge.Status)
	}

	member, err := s.RecordPayment(ctx, memberID, s.Today(), charge.PaymentMethodID)
	if err != nil {
		return charge, nil, err
	}
	return charge, member, nil
}
