package renewal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/DuesFox/app/models"
	"github.com/ManuelReschke/DuesFox/app/repository"
	"github.com/ManuelReschke/DuesFox/internal/pkg/clock"
	"github.com/ManuelReschke/DuesFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/DuesFox/internal/pkg/gateway"
	"github.com/ManuelReschke/DuesFox/internal/pkg/notifier"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.ChargeRequest
	// respond decides each create-charge result; defaults to success.
	respond func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error)
	charges map[string]*gateway.Charge
	// byAttempt replays the first answer for a repeated attempt id, like
	// the Idempotence-Key of the real gateway.
	byAttempt map[string]*gateway.Charge
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{charges: map[string]*gateway.Charge{}, byAttempt: map[string]*gateway.Charge{}}
}

func (g *fakeGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	n := len(g.requests)
	respond := g.respond
	if c, ok := g.byAttempt[req.Metadata.AttemptID]; ok {
		g.mu.Unlock()
		return c, nil
	}
	g.mu.Unlock()

	var (
		c   *gateway.Charge
		err error
	)
	if respond != nil {
		c, err = respond(ctx, req)
	} else {
		c = &gateway.Charge{ID: fmt.Sprintf("ch_%d", n), Status: gateway.StatusSucceeded, PaymentMethodID: req.PaymentMethodID}
	}
	if err == nil && c != nil {
		g.mu.Lock()
		g.byAttempt[req.Metadata.AttemptID] = c
		g.mu.Unlock()
	}
	return c, err
}

// created counts charges the gateway actually opened, replays excluded.
func (g *fakeGateway) created() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.byAttempt)
}

func (g *fakeGateway) FindCharge(_ context.Context, id string) (*gateway.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[id]
	if !ok {
		return nil, gateway.NewError(gateway.KindRejected, 404, errors.New("not found"))
	}
	return c, nil
}

func (g *fakeGateway) calls() []gateway.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.ChargeRequest(nil), g.requests...)
}

func declineAll(_ context.Context, _ gateway.ChargeRequest) (*gateway.Charge, error) {
	return &gateway.Charge{ID: "ch_declined", Status: gateway.StatusCanceled, CancellationReason: "insufficient_funds"}, nil
}

type sent struct {
	memberID int64
	msg      notifier.Message
}

type fakeNotifier struct {
	mu        sync.Mutex
	members   []sent
	operators []notifier.Message
	fail      bool
}

func (n *fakeNotifier) NotifyMember(_ context.Context, m models.Member, msg notifier.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.members = append(n.members, sent{memberID: m.ID, msg: msg})
	if n.fail {
		return errors.New("bot blocked")
	}
	return nil
}

func (n *fakeNotifier) NotifyOperators(_ context.Context, msg notifier.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.operators = append(n.operators, msg)
	if n.fail {
		return errors.New("operators unreachable")
	}
	return nil
}

func (n *fakeNotifier) memberTemplates(id int64) []notifier.Template {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifier.Template
	for _, s := range n.members {
		if s.memberID == id {
			out = append(out, s.msg.Template)
		}
	}
	return out
}

func (n *fakeNotifier) operatorTemplates() []notifier.Template {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifier.Template
	for _, m := range n.operators {
		out = append(out, m.Template)
	}
	return out
}

// failingWrites rejects every billing write made inside a member lock.
type failingWrites struct {
	repository.MemberRepository
}

type failingTx struct {
	repository.MemberRepository
}

func (failingTx) UpdateBillingFields(context.Context, int64, *models.BillingUpdate) error {
	return errors.New("disk full")
}

func (f failingWrites) WithMemberLock(ctx context.Context, id int64, fn func(repository.MemberRepository, *models.Member) error) error {
	return f.MemberRepository.WithMemberLock(ctx, id, func(tx repository.MemberRepository, m *models.Member) error {
		return fn(failingTx{tx}, m)
	})
}

type downDirectory struct {
	repository.MemberRepository
}

func (downDirectory) Ping(context.Context) error { return errors.New("connection refused") }

type harness struct {
	repo      repository.MemberRepository
	gateway   *fakeGateway
	notifier  *fakeNotifier
	clock     *clock.Fixed
	scheduler *Scheduler
}

func newHarness(t *testing.T, today time.Time) *harness {
	t.Helper()
	h := &harness{
		repo:     repository.NewMemberRepository(dbtest.Open(t)),
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
		// noon UTC is still the same calendar day in Moscow
		clock: clock.NewFixed(today.Add(12 * time.Hour)),
	}
	h.scheduler = h.build(h.repo)
	return h
}

func (h *harness) build(repo repository.MemberRepository) *Scheduler {
	return NewScheduler(Dependencies{
		Members:  repo,
		Gateway:  h.gateway,
		Notifier: h.notifier,
		Clock:    h.clock,
	}, Config{Location: time.UTC, Workers: 2, GatewayTimeout: time.Second})
}

func (h *harness) seed(t *testing.T, m models.Member) {
	t.Helper()
	require.NoError(t, h.repo.Create(context.Background(), &m))
}

func (h *harness) get(t *testing.T, id int64) *models.Member {
	t.Helper()
	m, err := h.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (h *harness) tick(t *testing.T) *TickReport {
	t.Helper()
	report, err := h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	return report
}

func sameDay(t *testing.T, want time.Time, got *time.Time) bool {
	t.Helper()
	return got != nil && clock.DateOf(*got).Equal(clock.DateOf(want))
}
