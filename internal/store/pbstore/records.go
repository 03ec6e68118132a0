package pbstore

import (
	"time"

	"rental-settlement/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

const (
	collectionAdvertisers  = "advertisers"
	collectionProperties   = "properties"
	collectionReservations = "reservations"
	collectionPayments     = "payments"
	collectionPayouts      = "pending_payouts"
	collectionLedger       = "advertiser_ledger"
)

func getDecimal(rec *core.Record, key string) decimal.Decimal {
	d, err := decimal.NewFromString(rec.GetString(key))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func getDecimalPtr(rec *core.Record, key string) *decimal.Decimal {
	if rec.GetString(key) == "" {
		return nil
	}
	d := getDecimal(rec, key)
	return &d
}

func getTime(rec *core.Record, key string) time.Time {
	dt := rec.GetDateTime(key)
	if dt.IsZero() {
		return time.Time{}
	}
	return dt.Time()
}

func getTimePtr(rec *core.Record, key string) *time.Time {
	t := getTime(rec, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

func setTime(rec *core.Record, key string, t *time.Time) {
	if t == nil || t.IsZero() {
		rec.Set(key, "")
		return
	}
	rec.Set(key, t.UTC())
}

func setDecimalPtr(rec *core.Record, key string, d *decimal.Decimal) {
	if d == nil {
		rec.Set(key, "")
		return
	}
	rec.Set(key, d.String())
}

// dateParam formats t the way DateField values are stored so they compare as text.
func dateParam(t time.Time) string {
	dt, err := types.ParseDateTime(t.UTC())
	if err != nil {
		return ""
	}
	return dt.String()
}

func toAdvertiser(rec *core.Record) *models.Advertiser {
	return &models.Advertiser{
		ID:     rec.Id,
		UserID: rec.GetString("userId"),
		Name:   rec.GetString("name"),
		Type:   models.AdvertiserType(rec.GetString("type")),
	}
}

func toProperty(rec *core.Record) *models.Property {
	return &models.Property{
		ID:           rec.Id,
		AdvertiserID: rec.GetString("advertiserId"),
		Title:        rec.GetString("title"),
		Status:       models.PropertyStatus(rec.GetString("status")),
	}
}

func toReservation(rec *core.Record) *models.Reservation {
	return &models.Reservation{
		ID:                 rec.Id,
		UserID:             rec.GetString("userId"),
		PropertyID:         rec.GetString("propertyId"),
		AdvertiserID:       rec.GetString("advertiserId"),
		Status:             models.ReservationStatus(rec.GetString("status")),
		PreviousStatus:     models.ReservationStatus(rec.GetString("previousStatus")),
		TotalPrice:         getDecimal(rec, "totalPrice"),
		Price:              getDecimalPtr(rec, "price"),
		ServiceFee:         getDecimal(rec, "serviceFee"),
		Currency:           rec.GetString("currency"),
		PaymentMethodID:    rec.GetString("paymentMethodId"),
		PaymentOrderID:     rec.GetString("paymentOrderId"),
		CancellationPolicy: models.CancellationPolicy(rec.GetString("cancellationPolicy")),
		ScheduledDate:      getTimePtr(rec, "scheduledDate"),
		AcceptedAt:         getTimePtr(rec, "acceptedAt"),
		PaidAt:             getTimePtr(rec, "paidAt"),
		MovedInAt:          getTimePtr(rec, "movedInAt"),
		ClosedAt:           getTimePtr(rec, "closedAt"),
		PayoutPending:      rec.GetBool("payoutPending"),
		PayoutScheduledFor: getTimePtr(rec, "payoutScheduledFor"),
		PayoutProcessed:    rec.GetBool("payoutProcessed"),
		PayoutProcessedAt:  getTimePtr(rec, "payoutProcessedAt"),
		Note:               rec.GetString("note"),
		Version:            int64(rec.GetInt("version")),
		CreatedAt:          getTime(rec, "createdAt"),
		UpdatedAt:          getTime(rec, "updatedAt"),
	}
}

func fillReservation(rec *core.Record, r *models.Reservation) {
	rec.Set("userId", r.UserID)
	rec.Set("propertyId", r.PropertyID)
	rec.Set("advertiserId", r.AdvertiserID)
	rec.Set("status", string(r.Status))
	rec.Set("previousStatus", string(r.PreviousStatus))
	rec.Set("totalPrice", r.TotalPrice.String())
	setDecimalPtr(rec, "price", r.Price)
	rec.Set("serviceFee", r.ServiceFee.String())
	rec.Set("currency", r.Currency)
	rec.Set("paymentMethodId", r.PaymentMethodID)
	rec.Set("paymentOrderId", r.PaymentOrderID)
	rec.Set("cancellationPolicy", string(r.CancellationPolicy))
	setTime(rec, "scheduledDate", r.ScheduledDate)
	setTime(rec, "acceptedAt", r.AcceptedAt)
	setTime(rec, "paidAt", r.PaidAt)
	setTime(rec, "movedInAt", r.MovedInAt)
	setTime(rec, "closedAt", r.ClosedAt)
	rec.Set("payoutPending", r.PayoutPending)
	setTime(rec, "payoutScheduledFor", r.PayoutScheduledFor)
	rec.Set("payoutProcessed", r.PayoutProcessed)
	setTime(rec, "payoutProcessedAt", r.PayoutProcessedAt)
	rec.Set("note", r.Note)
	rec.Set("version", r.Version)
	setTime(rec, "createdAt", &r.CreatedAt)
	setTime(rec, "updatedAt", &r.UpdatedAt)
}

func toPayment(rec *core.Record) *models.Payment {
	return &models.Payment{
		ID:               rec.Id,
		ReservationID:    rec.GetString("reservationId"),
		PropertyID:       rec.GetString("propertyId"),
		UserID:           rec.GetString("userId"),
		AdvertiserID:     rec.GetString("advertiserId"),
		Amount:           getDecimal(rec, "amount"),
		Currency:         rec.GetString("currency"),
		Status:           models.PaymentStatus(rec.GetString("status")),
		AdvertiserStatus: models.AdvertiserStatus(rec.GetString("advertiserStatus")),
		TransactionID:    rec.GetString("transactionId"),
		OrderID:          rec.GetString("orderId"),
		PaymentDate:      getTime(rec, "paymentDate"),
		Version:          int64(rec.GetInt("version")),
		CreatedAt:        getTime(rec, "createdAt"),
		UpdatedAt:        getTime(rec, "updatedAt"),
	}
}

func fillPayment(rec *core.Record, p *models.Payment) {
	rec.Set("reservationId", p.ReservationID)
	rec.Set("propertyId", p.PropertyID)
	rec.Set("userId", p.UserID)
	rec.Set("advertiserId", p.AdvertiserID)
	rec.Set("amount", p.Amount.String())
	rec.Set("currency", p.Currency)
	rec.Set("status", string(p.Status))
	rec.Set("advertiserStatus", string(p.AdvertiserStatus))
	rec.Set("transactionId", p.TransactionID)
	rec.Set("orderId", p.OrderID)
	setTime(rec, "paymentDate", &p.PaymentDate)
	rec.Set("version", p.Version)
	setTime(rec, "createdAt", &p.CreatedAt)
	setTime(rec, "updatedAt", &p.UpdatedAt)
}

func toPayout(rec *core.Record) *models.PendingPayout {
	return &models.PendingPayout{
		ID:                   rec.Id,
		AdvertiserID:         rec.GetString("advertiserId"),
		ReservationID:        rec.GetString("reservationId"),
		PropertyID:           rec.GetString("propertyId"),
		PaymentID:            rec.GetString("paymentId"),
		Amount:               getDecimal(rec, "amount"),
		Currency:             rec.GetString("currency"),
		Status:               models.PayoutStatus(rec.GetString("status")),
		ScheduledReleaseDate: getTime(rec, "scheduledReleaseDate"),
		ClaimToken:           rec.GetString("claimToken"),
		ClaimedAt:            getTimePtr(rec, "claimedAt"),
		Attempts:             rec.GetInt("attempts"),
		LastError:            rec.GetString("lastError"),
		FailureReason:        rec.GetString("failureReason"),
		CompletedAt:          getTimePtr(rec, "completedAt"),
		CreatedAt:            getTime(rec, "createdAt"),
		UpdatedAt:            getTime(rec, "updatedAt"),
	}
}

func fillPayout(rec *core.Record, p *models.PendingPayout) {
	rec.Set("advertiserId", p.AdvertiserID)
	rec.Set("reservationId", p.ReservationID)
	rec.Set("propertyId", p.PropertyID)
	rec.Set("paymentId", p.PaymentID)
	rec.Set("amount", p.Amount.String())
	rec.Set("currency", p.Currency)
	rec.Set("status", string(p.Status))
	setTime(rec, "scheduledReleaseDate", &p.ScheduledReleaseDate)
	rec.Set("claimToken", p.ClaimToken)
	setTime(rec, "claimedAt", p.ClaimedAt)
	rec.Set("attempts", p.Attempts)
	rec.Set("lastError", p.LastError)
	rec.Set("failureReason", p.FailureReason)
	setTime(rec, "completedAt", p.CompletedAt)
	setTime(rec, "createdAt", &p.CreatedAt)
	setTime(rec, "updatedAt", &p.UpdatedAt)
}

func toLedgerEntry(rec *core.Record) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:            rec.Id,
		AdvertiserID:  rec.GetString("advertiserId"),
		PayoutID:      rec.GetString("payoutId"),
		ReservationID: rec.GetString("reservationId"),
		Kind:          models.LedgerKind(rec.GetString("kind")),
		Amount:        getDecimal(rec, "amount"),
		Currency:      rec.GetString("currency"),
		CreatedAt:     getTime(rec, "createdAt"),
	}
}
