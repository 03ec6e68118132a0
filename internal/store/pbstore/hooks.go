package pbstore

import (
	"fmt"
	"time"

	"rental-settlement/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// engineOwnedFields are reservation fields only the settlement engine writes.
var engineOwnedFields = []string{
	"status",
	"previousStatus",
	"paymentOrderId",
	"acceptedAt",
	"paidAt",
	"movedInAt",
	"closedAt",
	"payoutPending",
	"payoutScheduledFor",
	"payoutProcessed",
	"payoutProcessedAt",
	"version",
}

// BindHooks guards reservations written through the generic record API. New reservations
// always start pending and updates may not touch engine-owned fields. Superusers are trusted.
func BindHooks(app core.App) {
	app.OnRecordCreateRequest(collectionReservations).BindFunc(func(e *core.RecordRequestEvent) error {
		if e.HasSuperuserAuth() {
			return e.Next()
		}
		resetEngineFields(e.Record, time.Now().UTC())
		return e.Next()
	})

	app.OnRecordUpdateRequest(collectionReservations).BindFunc(func(e *core.RecordRequestEvent) error {
		if e.HasSuperuserAuth() {
			return e.Next()
		}
		if changed := changedEngineFields(e.Record.Original(), e.Record); len(changed) > 0 {
			return apis.NewForbiddenError("Reservation lifecycle fields are managed by the settlement API", map[string]any{
				"fields": changed,
			})
		}
		return e.Next()
	})
}

func resetEngineFields(rec *core.Record, now time.Time) {
	for _, field := range engineOwnedFields {
		switch field {
		case "status":
			rec.Set(field, string(models.StatusPending))
		case "payoutPending", "payoutProcessed":
			rec.Set(field, false)
		case "version":
			rec.Set(field, 0)
		default:
			rec.Set(field, "")
		}
	}
	rec.Set("createdAt", now)
	rec.Set("updatedAt", now)
}

func changedEngineFields(original, updated *core.Record) []string {
	var changed []string
	for _, field := range engineOwnedFields {
		if fmt.Sprint(original.Get(field)) != fmt.Sprint(updated.Get(field)) {
			changed = append(changed, field)
		}
	}
	return changed
}
