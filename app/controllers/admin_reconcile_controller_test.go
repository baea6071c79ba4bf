package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/DuesFox/app/models"
	"github.com/ManuelReschke/DuesFox/app/repository"
	"github.com/ManuelReschke/DuesFox/internal/pkg/clock"
	"github.com/ManuelReschke/DuesFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/DuesFox/internal/pkg/gateway"
	"github.com/ManuelReschke/DuesFox/internal/pkg/notifier"
	"github.com/ManuelReschke/DuesFox/internal/pkg/renewal"
)

type stubGateway struct {
	create  func(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error)
	charges map[string]*gateway.Charge
}

func (g *stubGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	if g.create != nil {
		return g.create(ctx, req)
	}
	return &gateway.Charge{ID: "ch_ok", Status: gateway.StatusSucceeded, PaymentMethodID: req.PaymentMethodID}, nil
}

func (g *stubGateway) FindCharge(_ context.Context, id string) (*gateway.Charge, error) {
	if c, ok := g.charges[id]; ok {
		return c, nil
	}
	return nil, gateway.NewError(gateway.KindRejected, http.StatusNotFound, errors.New("payment not found"))
}

type silentNotifier struct{}

func (silentNotifier) NotifyMember(context.Context, models.Member, notifier.Message) error {
	return nil
}

func (silentNotifier) NotifyOperators(context.Context, notifier.Message) error { return nil }

type controllerFixture struct {
	app     *fiber.App
	repo    repository.MemberRepository
	gateway *stubGateway
	sched   *renewal.Scheduler
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	f := &controllerFixture{
		repo:    repository.NewMemberRepository(dbtest.Open(t)),
		gateway: &stubGateway{charges: map[string]*gateway.Charge{}},
	}
	f.sched = renewal.NewScheduler(renewal.Dependencies{
		Members:  f.repo,
		Gateway:  f.gateway,
		Notifier: silentNotifier{},
		Clock:    clock.NewFixed(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)),
	}, renewal.Config{Location: time.UTC, GatewayTimeout: time.Second})

	rc := NewAdminReconcileController(renewal.NewManager(f.sched), f.sched, f.repo)
	f.app = fiber.New()
	f.app.Get("/health", rc.HandleHealth)
	f.app.Post("/reconcile/run", rc.HandleRun)
	f.app.Get("/reconcile/status", rc.HandleStatus)
	f.app.Get("/members/:id/billing", rc.HandleMemberBilling)
	f.app.Post("/members/:id/payments", rc.HandleRecordPayment)
	f.app.Post("/members/:id/charges/:chargeID/confirm", rc.HandleConfirmCharge)
	return f
}

func (f *controllerFixture) seed(t *testing.T, id int64, paid time.Time) {
	t.Helper()
	method := "pm_saved"
	require.NoError(t, f.repo.Create(context.Background(), &models.Member{
		ID:              id,
		Username:        "oleg",
		LastName:        "Petrov",
		FirstName:       "Oleg",
		Status:          "Supporter",
		Contribution:    1500,
		LastPaymentDate: &paid,
		PaymentMethodID: &method,
	}))
}

func (f *controllerFixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestHandleMemberBilling(t *testing.T) {
	f := newControllerFixture(t)
	f.seed(t, 7, clock.Date(2024, time.March, 10))

	status, body := f.do(t, http.MethodGet, "/members/7/billing", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Petrov Oleg", body["name"])
	assert.Equal(t, "due", body["state"])
	assert.Equal(t, "charge", body["next_action"])
	assert.Equal(t, "2025-03-10", body["today"])

	cycle, ok := body["cycle"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2025-03-10", cycle["deadline"])
	assert.Equal(t, "2025-03-09", cycle["pre_expiry_date"])
	assert.Equal(t, "2025-03-24", cycle["escalation_date"])
}

func TestHandleMemberBillingErrors(t *testing.T) {
	f := newControllerFixture(t)

	status, _ := f.do(t, http.MethodGet, "/members/abc/billing", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := f.do(t, http.MethodGet, "/members/99/billing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}

func TestHandleRunReturnsReport(t *testing.T) {
	f := newControllerFixture(t)
	f.seed(t, 1, clock.Date(2024, time.March, 10))

	status, body := f.do(t, http.MethodPost, "/reconcile/run", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["members"])
	assert.EqualValues(t, 1, body["charged"])

	status, body = f.do(t, http.MethodGet, "/reconcile/status", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["running"])
	last, ok := body["last_tick"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, last, "error")
}

func TestHandleRunConflictWhileTickRuns(t *testing.T) {
	f := newControllerFixture(t)
	f.seed(t, 1, clock.Date(2024, time.March, 10))

	entered := make(chan struct{})
	release := make(chan struct{})
	f.gateway.create = func(_ context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
		close(entered)
		<-release
		return &gateway.Charge{ID: "ch_slow", Status: gateway.StatusSucceeded, PaymentMethodID: req.PaymentMethodID}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.sched.RunOnce(context.Background())
		done <- err
	}()
	<-entered

	status, body := f.do(t, http.MethodPost, "/reconcile/run", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["error"])

	close(release)
	require.NoError(t, <-done)
}

func TestHandleRecordPayment(t *testing.T) {
	f := newControllerFixture(t)
	f.seed(t, 3, clock.Date(2024, time.January, 5))

	status, body := f.do(t, http.MethodPost, "/members/3/payments", `{"paid_on":"2025-03-01","payment_method_id":"pm_new"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2025-03-01", body["last_payment_date"])
	assert.Equal(t, "current", body["state"])

	m, err := f.repo.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "pm_new", m.StoredMethodID())
	assert.Nil(t, m.AdminNotifiedDate)
}

func TestHandleRecordPaymentValidation(t *testing.T) {
	f := newControllerFixture(t)
	f.seed(t, 3, clock.Date(2024, time.January, 5))

	status, body := f.do(t, http.MethodPost, "/members/3/payments", `{"paid_on":"01.03.2025"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", body["error"])

	status, _ = f.do(t, http.MethodPost, "/members/3/payments", `{"paid_on":`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodPost, "/members/42/payments", `{"paid_on":"2025-03-01"}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHandleConfirmCharge(t *testing.T) {
	f := newControllerFixture(t)
	f.seed(t, 5, clock.Date(2024, time.March, 10))
	f.gateway.charges["ch_pending"] = &gateway.Charge{ID: "ch_pending", Status: gateway.StatusPending}
	f.gateway.charges["ch_done"] = &gateway.Charge{ID: "ch_done", Status: gateway.StatusSucceeded, Paid: true, PaymentMethodID: "pm_saved"}

	status, body := f.do(t, http.MethodPost, "/members/5/charges/ch_pending/confirm", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, gateway.StatusPending, body["status"])

	status, _ = f.do(t, http.MethodPost, "/members/5/charges/ch_unknown/confirm", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodPost, "/members/5/charges/ch_done/confirm", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ch_done", body["charge_id"])
	assert.Equal(t, "2025-03-10", body["last_payment_date"])
	assert.Equal(t, "current", body["state"])
}

func TestHandleHealth(t *testing.T) {
	f := newControllerFixture(t)

	status, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}
