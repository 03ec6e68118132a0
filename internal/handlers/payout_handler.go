package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"rental-settlement/internal/services"
	"rental-settlement/internal/store"
	"rental-settlement/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type PayoutHandler struct {
	store     store.Store
	scheduler *services.PayoutScheduler
	processor *services.PayoutProcessor
	reaper    *services.Reaper
	actors    *ActorResolver
}

func NewPayoutHandler(s store.Store, scheduler *services.PayoutScheduler, processor *services.PayoutProcessor, reaper *services.Reaper, actors *ActorResolver) *PayoutHandler {
	return &PayoutHandler{
		store:     s,
		scheduler: scheduler,
		processor: processor,
		reaper:    reaper,
		actors:    actors,
	}
}

// ListPayouts - List payouts, optionally filtered by comma separated statuses
func (h *PayoutHandler) ListPayouts(e *core.RequestEvent) error {
	if err := h.actors.requireAdmin(e); err != nil {
		return err
	}

	query := e.Request.URL.Query()
	q := store.PayoutQuery{
		AdvertiserID: query.Get("advertiserId"),
		Limit:        defaultPageSize,
	}
	if raw := query.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			q.Statuses = append(q.Statuses, models.PayoutStatus(strings.TrimSpace(st)))
		}
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return apis.NewBadRequestError("limit must be a positive integer", nil)
		}
		q.Limit = min(limit, maxPageSize)
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return apis.NewBadRequestError("offset must be a non-negative integer", nil)
		}
		q.Offset = offset
	}

	payouts, err := h.store.ListPayouts(e.Request.Context(), q)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"items":  payouts,
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// RunPayouts - Reconcile unscheduled payouts, then release every due payout
func (h *PayoutHandler) RunPayouts(e *core.RequestEvent) error {
	if err := h.actors.requireAdmin(e); err != nil {
		return err
	}
	ctx := e.Request.Context()

	reconciled, err := h.scheduler.ReconcileUnscheduled(ctx)
	if err != nil {
		return apiError(err)
	}
	result, err := h.processor.RunDuePayouts(ctx)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"reconciled": reconciled,
		"result":     result,
	})
}

// ReapReservations - Expire accepted reservations whose payment window passed
func (h *PayoutHandler) ReapReservations(e *core.RequestEvent) error {
	if err := h.actors.requireAdmin(e); err != nil {
		return err
	}
	expired, err := h.reaper.ExpireStaleReservations(e.Request.Context())
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"expired": expired})
}

// GetAdvertiserTotals - Ledger totals, for admins and the advertiser itself
func (h *PayoutHandler) GetAdvertiserTotals(e *core.RequestEvent) error {
	actor, err := h.actors.Resolve(e)
	if err != nil {
		return err
	}
	advertiserID := e.Request.PathValue("id")
	if actor.Role != services.RoleAdmin && (actor.Role != services.RoleAdvertiser || actor.ID != advertiserID) {
		return apis.NewForbiddenError("Access denied", nil)
	}

	ctx := e.Request.Context()
	if _, err := h.store.GetAdvertiser(ctx, advertiserID); err != nil {
		return apiError(err)
	}
	totals, err := h.store.AdvertiserTotals(ctx, advertiserID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, totals)
}
