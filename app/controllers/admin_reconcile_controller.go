package controllers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DuesFox/app/repository"
	"github.com/ManuelReschke/DuesFox/internal/pkg/gateway"
	"github.com/ManuelReschke/DuesFox/internal/pkg/renewal"
)

// ============================================================================
// ADMIN RECONCILE CONTROLLER - Repository Pattern
// ============================================================================

// AdminReconcileController exposes the renewal scheduler to operators.
type AdminReconcileController struct {
	manager   *renewal.Manager
	scheduler *renewal.Scheduler
	members   repository.MemberRepository
	validate  *validator.Validate
}

func NewAdminReconcileController(manager *renewal.Manager, scheduler *renewal.Scheduler, members repository.MemberRepository) *AdminReconcileController {
	return &AdminReconcileController{
		manager:   manager,
		scheduler: scheduler,
		members:   members,
		validate:  validator.New(),
	}
}

// recordPaymentRequest is the body of POST /members/:id/payments.
type recordPaymentRequest struct {
	PaidOn          string `json:"paid_on" validate:"required,datetime=2006-01-02"`
	PaymentMethodID string `json:"payment_method_id" validate:"omitempty,max=64"`
}

type billingResponse struct {
	MemberID        int64          `json:"member_id"`
	Name            string         `json:"name"`
	Status          string         `json:"status"`
	State           renewal.State  `json:"state"`
	Today           string         `json:"today"`
	Cycle           *cycleResponse `json:"cycle,omitempty"`
	LastFailed      *string        `json:"last_failed_payment_date,omitempty"`
	PreExpiryNotice *string        `json:"pre_expiry_notified_date,omitempty"`
	Escalated       *string        `json:"admin_notified_date,omitempty"`
	HasMethod       bool           `json:"has_payment_method"`
	NextAction      string         `json:"next_action"`
	Reason          string         `json:"reason"`
}

type cycleResponse struct {
	LastPayment    string `json:"last_payment_date"`
	PreExpiry      string `json:"pre_expiry_date"`
	Deadline       string `json:"deadline"`
	EscalationDate string `json:"escalation_date"`
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.DateOnly)
	return &s
}

func (rc *AdminReconcileController) memberID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, errors.New("invalid member id")
	}
	return int64(id), nil
}

func (rc *AdminReconcileController) memberError(c *fiber.Ctx, err error) error {
	if errors.Is(err, repository.ErrMemberNotFound) {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Member not found")
	}
	log.Errorf("[AdminReconcile] member lookup failed: %v", err)
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Member directory unavailable")
}

// HandleRun runs one tick synchronously and returns its report.
func (rc *AdminReconcileController) HandleRun(c *fiber.Ctx) error {
	report, err := rc.manager.TriggerNow(c.UserContext())
	switch {
	case errors.Is(err, renewal.ErrTickInProgress):
		return jsonError(c, fiber.StatusConflict, "conflict", "A reconciliation tick is already running")
	case errors.Is(err, renewal.ErrDirectoryUnavailable):
		return jsonError(c, fiber.StatusServiceUnavailable, "unavailable", err.Error())
	case err != nil:
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", err.Error())
	}
	return c.JSON(report)
}

// HandleStatus reports whether the timer is running and the last tick result.
func (rc *AdminReconcileController) HandleStatus(c *fiber.Ctx) error {
	resp := fiber.Map{
		"running": rc.manager.IsRunning(),
		"today":   rc.scheduler.Today().Format(time.DateOnly),
	}
	if last := rc.manager.LastResult(); last != nil {
		entry := fiber.Map{
			"at":     last.At.UTC().Format(time.RFC3339),
			"report": last.Report,
		}
		if last.Err != nil {
			entry["error"] = last.Err.Error()
		}
		resp["last_tick"] = entry
	}
	return c.JSON(resp)
}

// HandleMemberBilling shows the derived billing cycle for one member.
func (rc *AdminReconcileController) HandleMemberBilling(c *fiber.Ctx) error {
	id, err := rc.memberID(c)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}
	member, err := rc.members.GetByID(c.UserContext(), id)
	if err != nil {
		return rc.memberError(c, err)
	}

	today := rc.scheduler.Today()
	decision := renewal.Decide(*member, today)
	resp := billingResponse{
		MemberID:        member.ID,
		Name:            member.FullName(),
		Status:          member.Status,
		State:           renewal.StateOf(*member, today),
		Today:           today.Format(time.DateOnly),
		LastFailed:      formatDate(member.LastFailedPaymentDate),
		PreExpiryNotice: formatDate(member.PreExpiryNotifiedDate),
		Escalated:       formatDate(member.AdminNotifiedDate),
		HasMethod:       member.HasStoredMethod(),
		NextAction:      decision.Action.String(),
		Reason:          decision.Reason,
	}
	if cycle, ok := member.CurrentCycle(); ok {
		resp.Cycle = &cycleResponse{
			LastPayment:    cycle.LastPayment.Format(time.DateOnly),
			PreExpiry:      cycle.PreExpiryDate.Format(time.DateOnly),
			Deadline:       cycle.Deadline.Format(time.DateOnly),
			EscalationDate: cycle.EscalationDate.Format(time.DateOnly),
		}
	}
	return c.JSON(resp)
}

// HandleRecordPayment stores a payment confirmed outside the tick.
func (rc *AdminReconcileController) HandleRecordPayment(c *fiber.Ctx) error {
	id, err := rc.memberID(c)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	var req recordPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := rc.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}
	paidOn, _ := time.Parse(time.DateOnly, req.PaidOn)

	member, err := rc.scheduler.RecordPayment(c.UserContext(), id, paidOn, req.PaymentMethodID)
	if err != nil {
		return rc.memberError(c, err)
	}
	return c.JSON(fiber.Map{
		"member_id":         member.ID,
		"last_payment_date": formatDate(member.LastPaymentDate),
		"state":             renewal.StateOf(*member, rc.scheduler.Today()),
	})
}

// HandleConfirmCharge records a charge that succeeded after the tick gave up on it.
func (rc *AdminReconcileController) HandleConfirmCharge(c *fiber.Ctx) error {
	id, err := rc.memberID(c)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}
	chargeID := c.Params("chargeID")

	charge, member, err := rc.scheduler.ConfirmCharge(c.UserContext(), id, chargeID)
	switch {
	case errors.Is(err, renewal.ErrChargeNotSucceeded):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "conflict",
			"message": err.Error(),
			"status":  charge.Status,
		})
	case gateway.KindOf(err) == gateway.KindRejected:
		return jsonError(c, fiber.StatusNotFound, "not_found", "Charge not found at the payment gateway")
	case gateway.KindOf(err) != "":
		return jsonError(c, fiber.StatusBadGateway, "bad_gateway", err.Error())
	case err != nil:
		return rc.memberError(c, err)
	}

	return c.JSON(fiber.Map{
		"member_id":         member.ID,
		"charge_id":         charge.ID,
		"last_payment_date": formatDate(member.LastPaymentDate),
		"state":             renewal.StateOf(*member, rc.scheduler.Today()),
	})
}

// HandleHealth checks the member directory.
func (rc *AdminReconcileController) HandleHealth(c *fiber.Ctx) error {
	if err := rc.members.Ping(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
