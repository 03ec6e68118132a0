package handlers

import (
	"context"
	"net/http"

	"rental-settlement/internal/services"
	"rental-settlement/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type ReservationHandler struct {
	reservations *services.ReservationService
	actors       *ActorResolver
}

func NewReservationHandler(reservations *services.ReservationService, actors *ActorResolver) *ReservationHandler {
	return &ReservationHandler{
		reservations: reservations,
		actors:       actors,
	}
}

type transitionRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

type transitionFunc func(ctx context.Context, id string, actor services.Actor, req transitionRequest) (*models.Reservation, error)

// transition resolves the caller, binds the optional body and runs fn on the path reservation.
func (h *ReservationHandler) transition(e *core.RequestEvent, fn transitionFunc) error {
	actor, err := h.actors.Resolve(e)
	if err != nil {
		return err
	}

	var req transitionRequest
	if e.Request.ContentLength != 0 {
		if err := e.BindBody(&req); err != nil {
			return apis.NewBadRequestError("Invalid request", err)
		}
	}

	r, err := fn(e.Request.Context(), e.Request.PathValue("id"), actor, req)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, r)
}

// GetReservation - Get a reservation visible to the caller
func (h *ReservationHandler) GetReservation(e *core.RequestEvent) error {
	actor, err := h.actors.Resolve(e)
	if err != nil {
		return err
	}
	r, err := h.reservations.Get(e.Request.Context(), e.Request.PathValue("id"), actor)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, r)
}

// GetSettlement - Preview the money split of a reservation
func (h *ReservationHandler) GetSettlement(e *core.RequestEvent) error {
	actor, err := h.actors.Resolve(e)
	if err != nil {
		return err
	}
	s, err := h.reservations.Settlement(e.Request.Context(), e.Request.PathValue("id"), actor)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, s)
}

func (h *ReservationHandler) Accept(e *core.RequestEvent) error {
	return h.transition(e, func(ctx context.Context, id string, actor services.Actor, _ transitionRequest) (*models.Reservation, error) {
		return h.reservations.Accept(ctx, id, actor)
	})
}

func (h *ReservationHandler) Reject(e *core.RequestEvent) error {
	return h.transition(e, func(ctx context.Context, id string, actor services.Actor, req transitionRequest) (*models.Reservation, error) {
		return h.reservations.Reject(ctx, id, actor, req.Note)
	})
}

// Cancel - Standard cancellation; paid reservations go to refund processing
func (h *ReservationHandler) Cancel(e *core.RequestEvent) error {
	return h.transition(e, func(ctx context.Context, id string, actor services.Actor, req transitionRequest) (*models.Reservation, error) {
		return h.reservations.ProcessStandardCancellation(ctx, id, actor, req.Note)
	})
}

func (h *ReservationHandler) Pay(e *core.RequestEvent) error {
	return h.transition(e, func(ctx context.Context, id string, actor services.Actor, _ transitionRequest) (*models.Reservation, error) {
		return h.reservations.Pay(ctx, id, actor)
	})
}

func (h *ReservationHandler) MoveIn(e *core.RequestEvent) error {
	return h.transition(e, func(ctx context.Context, id string, actor services.Actor, _ transitionRequest) (*models.Reservation, error) {
		return h.reservations.MoveIn(ctx, id, actor)
	})
}

func (h *ReservationHandler) RequestRefund(e *core.RequestEvent) error {
	return h.transition(e, func(ctx context.Context, id string, actor services.Actor, req transitionRequest) (*models.Reservation, error) {
		return h.reservations.RequestRefund(ctx, id, actor, req.Note)
	})
}

func (h *ReservationHandler) ResolveRefund(e *core.RequestEvent) error {
	return h.transition(e, func(ctx context.Context, id string, actor services.Actor, req transitionRequest) (*models.Reservation, error) {
		return h.reservations.ResolveRefund(ctx, id, actor, req.Approve, req.Note)
	})
}

func (h *ReservationHandler) RequestExceptionCancellation(e *core.RequestEvent) error {
	return h.transition(e, func(ctx context.Context, id string, actor services.Actor, req transitionRequest) (*models.Reservation, error) {
		return h.reservations.RequestExceptionCancellation(ctx, id, actor, req.Note)
	})
}

func (h *ReservationHandler) ReviewCancellation(e *core.RequestEvent) error {
	return h.transition(e, func(ctx context.Context, id string, actor services.Actor, req transitionRequest) (*models.Reservation, error) {
		return h.reservations.ReviewCancellation(ctx, id, actor, req.Approve, req.Note)
	})
}
