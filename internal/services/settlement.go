package services

import (
	"rental-settlement/models"

	"github.com/shopspring/decimal"
)

var landlordFeeRate = decimal.RequireFromString("0.5")

// SettlementCalculator splits a reservation's money between platform and advertiser.
type SettlementCalculator struct {
	DefaultCurrency string
}

// ComputeSettlement uses the package default currency.
func ComputeSettlement(r *models.Reservation, advertiserType models.AdvertiserType) models.SettlementComputation {
	return SettlementCalculator{DefaultCurrency: DefaultCurrency}.Compute(r, advertiserType)
}

// Compute is total and deterministic: malformed inputs are clamped to zero and explained in Notes.
func (c SettlementCalculator) Compute(r *models.Reservation, advertiserType models.AdvertiserType) models.SettlementComputation {
	var notes []string

	commission := models.Money(r.ServiceFee)
	if commission.IsNegative() {
		notes = append(notes, "negative service fee treated as zero")
		commission = decimal.Zero
	}

	var rent decimal.Decimal
	if r.Price != nil {
		rent = models.Money(*r.Price)
		if rent.IsNegative() {
			notes = append(notes, "negative price treated as zero")
			rent = decimal.Zero
		}
	} else {
		rent = models.Money(r.TotalPrice.Sub(commission))
		if rent.IsNegative() {
			notes = append(notes, "service fee exceeds total price, rent clamped to zero")
			rent = decimal.Zero
		}
	}

	fee := decimal.Zero
	switch advertiserType {
	case models.AdvertiserBroker, models.AdvertiserAgency:
	default:
		fee = models.Money(rent.Mul(landlordFeeRate))
	}

	return models.SettlementComputation{
		RentAmount:       rent,
		TenantCommission: commission,
		AdvertiserFee:    fee,
		PayoutAmount:     models.NonNegative(rent.Sub(fee)),
		Currency:         c.Currency(r),
		Notes:            notes,
	}
}

// Currency is the reservation's currency, or the default when unset.
func (c SettlementCalculator) Currency(r *models.Reservation) string {
	switch {
	case r.Currency != "":
		return r.Currency
	case c.DefaultCurrency != "":
		return c.DefaultCurrency
	}
	return DefaultCurrency
}
