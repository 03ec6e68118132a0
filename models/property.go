package models

type PropertyStatus string

const (
	PropertyAvailable PropertyStatus = "available"
	PropertyReserved  PropertyStatus = "reserved"
	PropertyRented    PropertyStatus = "rented"
)

type Property struct {
	ID           string         `json:"id"`
	AdvertiserID string         `json:"advertiserId"`
	Title        string         `json:"title"`
	Status       PropertyStatus `json:"status"`
}

type AdvertiserType string

const (
	AdvertiserBroker   AdvertiserType = "broker"
	AdvertiserLandlord AdvertiserType = "landlord"
	AdvertiserAgency   AdvertiserType = "agency"
)

// Advertiser is the counterparty that lists properties and receives payouts.
type Advertiser struct {
	ID     string         `json:"id"`
	UserID string         `json:"userId"`
	Name   string         `json:"name"`
	Type   AdvertiserType `json:"type"`
}
