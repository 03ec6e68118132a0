package services

import "rental-settlement/models"

type Role string

const (
	RoleTenant     Role = "tenant"
	RoleAdvertiser Role = "advertiser"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

// Actor is the caller of a transition. For advertisers ID is the advertiser id, for
// tenants the user id.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor performs scheduled transitions such as expiry.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

type edge struct {
	from, to models.ReservationStatus
}

var (
	advertiserOrAdmin = []Role{RoleAdvertiser, RoleAdmin}
	tenantOrAdmin     = []Role{RoleTenant, RoleAdmin}
	tenantOnly        = []Role{RoleTenant}
)

// transitions maps every legal edge to the roles allowed to take it.
var transitions = map[edge][]Role{
	{models.StatusPending, models.StatusAccepted}:  advertiserOrAdmin,
	{models.StatusPending, models.StatusRejected}:  advertiserOrAdmin,
	{models.StatusPending, models.StatusCancelled}: tenantOrAdmin,

	{models.StatusAccepted, models.StatusPaid}:                    tenantOnly,
	{models.StatusAccepted, models.StatusCancelled}:               tenantOrAdmin,
	{models.StatusAccepted, models.StatusExpired}:                 {RoleSystem},
	{models.StatusAccepted, models.StatusCancellationUnderReview}: tenantOnly,

	{models.StatusPaid, models.StatusMovedIn}:                 tenantOrAdmin,
	{models.StatusPaid, models.StatusRefundProcessing}:        tenantOnly,
	{models.StatusPaid, models.StatusCancellationUnderReview}: tenantOnly,

	{models.StatusMovedIn, models.StatusRefundProcessing}: tenantOnly,

	{models.StatusCancellationUnderReview, models.StatusCancelled}: advertiserOrAdmin,
	{models.StatusCancellationUnderReview, models.StatusAccepted}:  advertiserOrAdmin,
	{models.StatusCancellationUnderReview, models.StatusPaid}:      advertiserOrAdmin,

	{models.StatusRefundProcessing, models.StatusRefundCompleted}: advertiserOrAdmin,
	{models.StatusRefundProcessing, models.StatusRefundFailed}:    advertiserOrAdmin,
}

// CanTransition reports whether from → to is an edge of the lifecycle.
func CanTransition(from, to models.ReservationStatus) bool {
	_, ok := transitions[edge{from, to}]
	return ok
}

// NextStatuses lists the statuses reachable from s in lifecycle order.
func NextStatuses(s models.ReservationStatus) []models.ReservationStatus {
	var out []models.ReservationStatus
	for _, to := range models.AllReservationStatuses {
		if CanTransition(s, to) {
			out = append(out, to)
		}
	}
	return out
}

// authorized reports whether actor may take the edge on r. Tenants act only on their own
// reservations and advertisers only on reservations of their listings.
func authorized(actor Actor, r *models.Reservation, roles []Role) bool {
	allowed := false
	for _, role := range roles {
		if role == actor.Role {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	switch actor.Role {
	case RoleTenant:
		return actor.ID != "" && actor.ID == r.UserID
	case RoleAdvertiser:
		return actor.ID != "" && actor.ID == r.AdvertiserID
	}
	return true
}

// canView reports whether actor may read r.
func canView(actor Actor, r *models.Reservation) bool {
	switch actor.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleTenant:
		return actor.ID == r.UserID
	case RoleAdvertiser:
		return actor.ID == r.AdvertiserID
	}
	return false
}

// priorStatus is the status a rejected cancellation review reverts to.
func priorStatus(r *models.Reservation) models.ReservationStatus {
	switch r.PreviousStatus {
	case models.StatusAccepted, models.StatusPaid:
		return r.PreviousStatus
	}
	if r.PaymentMethodID != "" || r.PaymentOrderID != "" || r.PaidAt != nil {
		return models.StatusPaid
	}
	return models.StatusAccepted
}
