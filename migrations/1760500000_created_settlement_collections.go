package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

var reservationStatuses = []string{
	"pending", "accepted", "rejected", "paid", "movedIn", "cancellationUnderReview",
	"cancelled", "refundProcessing", "refundCompleted", "refundFailed", "expired",
}

func init() {
	m.Register(func(app core.App) error {
		advertisers := core.NewBaseCollection("advertisers")
		advertisers.Fields.Add(
			&core.TextField{Name: "userId", Required: true},
			&core.TextField{Name: "name"},
			&core.SelectField{Name: "type", Required: true, MaxSelect: 1, Values: []string{"broker", "landlord", "agency"}},
		)
		advertisers.AddIndex("idx_advertisers_user", true, "userId", "")
		if err := app.Save(advertisers); err != nil {
			return err
		}

		properties := core.NewBaseCollection("properties")
		properties.Fields.Add(
			&core.TextField{Name: "advertiserId", Required: true},
			&core.TextField{Name: "title"},
			&core.SelectField{Name: "status", MaxSelect: 1, Values: []string{"available", "reserved", "rented"}},
		)
		properties.ListRule = types.Pointer("")
		properties.ViewRule = types.Pointer("")
		if err := app.Save(properties); err != nil {
			return err
		}

		reservations := core.NewBaseCollection("reservations")
		reservations.Fields.Add(
			&core.TextField{Name: "userId", Required: true},
			&core.TextField{Name: "propertyId", Required: true},
			&core.TextField{Name: "advertiserId"},
			&core.SelectField{Name: "status", MaxSelect: 1, Values: reservationStatuses},
			&core.SelectField{Name: "previousStatus", MaxSelect: 1, Values: reservationStatuses},
			&core.TextField{Name: "totalPrice"},
			&core.TextField{Name: "price"},
			&core.TextField{Name: "serviceFee"},
			&core.TextField{Name: "currency"},
			&core.TextField{Name: "paymentMethodId"},
			&core.TextField{Name: "paymentOrderId"},
			&core.SelectField{Name: "cancellationPolicy", MaxSelect: 1, Values: []string{"flexible", "moderate", "strict"}},
			&core.DateField{Name: "scheduledDate"},
			&core.DateField{Name: "acceptedAt"},
			&core.DateField{Name: "paidAt"},
			&core.DateField{Name: "movedInAt"},
			&core.DateField{Name: "closedAt"},
			&core.BoolField{Name: "payoutPending"},
			&core.DateField{Name: "payoutScheduledFor"},
			&core.BoolField{Name: "payoutProcessed"},
			&core.DateField{Name: "payoutProcessedAt"},
			&core.TextField{Name: "note"},
			&core.NumberField{Name: "version", OnlyInt: true},
			&core.DateField{Name: "createdAt"},
			&core.DateField{Name: "updatedAt"},
		)
		reservations.AddIndex("idx_reservations_status", false, "status", "")
		reservations.AddIndex("idx_reservations_payout_due", false, "status, payoutPending, payoutScheduledFor", "")
		reservations.ListRule = types.Pointer("userId = @request.auth.id")
		reservations.ViewRule = types.Pointer("userId = @request.auth.id")
		reservations.CreateRule = types.Pointer("@request.auth.id != '' && userId = @request.auth.id")
		if err := app.Save(reservations); err != nil {
			return err
		}

		payments := core.NewBaseCollection("payments")
		payments.Fields.Add(
			&core.TextField{Name: "reservationId", Required: true},
			&core.TextField{Name: "propertyId"},
			&core.TextField{Name: "userId"},
			&core.TextField{Name: "advertiserId"},
			&core.TextField{Name: "amount"},
			&core.TextField{Name: "currency"},
			&core.SelectField{Name: "status", MaxSelect: 1, Values: []string{"pending", "completed", "failed", "refunded"}},
			&core.SelectField{Name: "advertiserStatus", MaxSelect: 1, Values: []string{"pending", "completed"}},
			&core.TextField{Name: "transactionId"},
			&core.TextField{Name: "orderId"},
			&core.DateField{Name: "paymentDate"},
			&core.NumberField{Name: "version", OnlyInt: true},
			&core.DateField{Name: "createdAt"},
			&core.DateField{Name: "updatedAt"},
		)
		payments.AddIndex("idx_payments_reservation", true, "reservationId", "")
		if err := app.Save(payments); err != nil {
			return err
		}

		payouts := core.NewBaseCollection("pending_payouts")
		payouts.Fields.Add(
			&core.TextField{Name: "advertiserId", Required: true},
			&core.TextField{Name: "reservationId", Required: true},
			&core.TextField{Name: "propertyId"},
			&core.TextField{Name: "paymentId"},
			&core.TextField{Name: "amount"},
			&core.TextField{Name: "currency"},
			&core.SelectField{Name: "status", MaxSelect: 1, Values: []string{"pending", "processing", "completed", "failed"}},
			&core.DateField{Name: "scheduledReleaseDate"},
			&core.TextField{Name: "claimToken"},
			&core.DateField{Name: "claimedAt"},
			&core.NumberField{Name: "attempts", OnlyInt: true},
			&core.TextField{Name: "lastError"},
			&core.TextField{Name: "failureReason"},
			&core.DateField{Name: "completedAt"},
			&core.DateField{Name: "createdAt"},
			&core.DateField{Name: "updatedAt"},
		)
		payouts.AddIndex("idx_payouts_active_reservation", true, "reservationId", "status IN ('pending', 'processing')")
		payouts.AddIndex("idx_payouts_status_release", false, "status, scheduledReleaseDate", "")
		if err := app.Save(payouts); err != nil {
			return err
		}

		ledger := core.NewBaseCollection("advertiser_ledger")
		ledger.Fields.Add(
			&core.TextField{Name: "advertiserId", Required: true},
			&core.TextField{Name: "payoutId", Required: true},
			&core.TextField{Name: "reservationId"},
			&core.SelectField{Name: "kind", Required: true, MaxSelect: 1, Values: []string{"payout", "reversal"}},
			&core.TextField{Name: "amount"},
			&core.TextField{Name: "currency"},
			&core.DateField{Name: "createdAt"},
		)
		ledger.AddIndex("idx_ledger_payout_kind", true, "payoutId, kind", "")
		ledger.AddIndex("idx_ledger_advertiser", false, "advertiserId", "")
		return app.Save(ledger)
	}, func(app core.App) error {
		for _, name := range []string{"advertiser_ledger", "pending_payouts", "payments", "reservations", "properties", "advertisers"} {
			collection, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				return err
			}
			if err := app.Delete(collection); err != nil {
				return err
			}
		}
		return nil
	})
}
