package models

import (
	"fmt"
	"strings"
	"time"
)

// DonationStatus is the lifecycle state of a donation.
type DonationStatus string

const (
	StatusOffered   DonationStatus = "OFFERED"
	StatusAccepted  DonationStatus = "ACCEPTED"
	StatusInTransit DonationStatus = "IN_TRANSIT"
	StatusDelivered DonationStatus = "DELIVERED"
	StatusCancelled DonationStatus = "CANCELLED"
)

// DonationStatuses lists every status in lifecycle order.
var DonationStatuses = []DonationStatus{
	StatusOffered, StatusAccepted, StatusInTransit, StatusDelivered, StatusCancelled,
}

// ParseDonationStatus converts a raw string into a DonationStatus.
func ParseDonationStatus(s string) (DonationStatus, error) {
	switch st := DonationStatus(s); st {
	case StatusOffered, StatusAccepted, StatusInTransit, StatusDelivered, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown donation status %q", s)
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s DonationStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// IsBound reports whether a donation in this status must carry an accepted
// request.
func (s DonationStatus) IsBound() bool {
	switch s {
	case StatusAccepted, StatusInTransit, StatusDelivered:
		return true
	default:
		return false
	}
}

// Label renders the status for humans ("IN TRANSIT").
func (s DonationStatus) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// ItemCategory classifies the donated item.
type ItemCategory string

const (
	CategoryWheelchair      ItemCategory = "WHEELCHAIR"
	CategoryWalker          ItemCategory = "WALKER"
	CategoryCane            ItemCategory = "CANE"
	CategoryCrutches        ItemCategory = "CRUTCHES"
	CategoryHospitalBed     ItemCategory = "HOSPITAL_BED"
	CategoryBathroomSafety  ItemCategory = "BATHROOM_SAFETY"
	CategoryMedicalSupplies ItemCategory = "MEDICAL_SUPPLIES"
	CategoryOther           ItemCategory = "OTHER"
)

// ItemCondition describes the physical state of the item.
type ItemCondition string

const (
	ConditionNew     ItemCondition = "NEW"
	ConditionLikeNew ItemCondition = "LIKE_NEW"
	ConditionGood    ItemCondition = "GOOD"
	ConditionFair    ItemCondition = "FAIR"
)

// Donation is a donor-listed item moving through the lifecycle.
type Donation struct {
	ID                string         `db:"id" json:"id"`
	DonorID           string         `db:"donor_id" json:"donorId"`
	Title             string         `db:"title" json:"title"`
	Description       string         `db:"description" json:"description"`
	Category          ItemCategory   `db:"category" json:"category"`
	Condition         ItemCondition  `db:"condition" json:"condition"`
	Photos            StringList     `db:"photos" json:"photos"`
	Location          string         `db:"location" json:"location"`
	City              string         `db:"city" json:"city"`
	State             string         `db:"state" json:"state"`
	ZipCode           string         `db:"zip_code" json:"zipCode"`
	PickupAvailable   bool           `db:"pickup_available" json:"pickupAvailable"`
	DropOffAvailable  bool           `db:"drop_off_available" json:"dropOffAvailable"`
	PickupNotes       *string        `db:"pickup_notes" json:"pickupNotes,omitempty"`
	DropOffNotes      *string        `db:"drop_off_notes" json:"dropOffNotes,omitempty"`
	Status            DonationStatus `db:"status" json:"status"`
	AcceptedRequestID *string        `db:"accepted_request_id" json:"acceptedRequestId"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updatedAt"`
}

// DonationFields is the donor-supplied part of a new listing.
type DonationFields struct {
	Title            string        `json:"title" validate:"required,min=5"`
	Description      string        `json:"description" validate:"required,min=20"`
	Category         ItemCategory  `json:"category" validate:"required,oneof=WHEELCHAIR WALKER CANE CRUTCHES HOSPITAL_BED BATHROOM_SAFETY MEDICAL_SUPPLIES OTHER"`
	Condition        ItemCondition `json:"condition" validate:"required,oneof=NEW LIKE_NEW GOOD FAIR"`
	Location         string        `json:"location" validate:"required,min=5"`
	City             string        `json:"city" validate:"required,min=2"`
	State            string        `json:"state" validate:"required,min=2"`
	ZipCode          string        `json:"zipCode" validate:"required,zipcode"`
	PickupAvailable  bool          `json:"pickupAvailable"`
	DropOffAvailable bool          `json:"dropOffAvailable"`
	PickupNotes      *string       `json:"pickupNotes,omitempty"`
	DropOffNotes     *string       `json:"dropOffNotes,omitempty"`
}

// DonationFilter narrows a donation listing. Zero fields match everything.
type DonationFilter struct {
	Status    DonationStatus
	Query     string
	Category  ItemCategory
	Condition ItemCondition
	Limit     int
	Offset    int
}

// DonationDetail is the full view of a donation: the listing, its donor,
// candidate requests, the accepted request (if any), the ordered ledger and
// any delivery evidence.
type DonationDetail struct {
	Donation        *Donation         `json:"donation"`
	Donor           *Party            `json:"donor,omitempty"`
	AcceptedRequest *Request          `json:"acceptedRequest,omitempty"`
	Requests        []Request         `json:"requests"`
	History         []HistoryEntry    `json:"statusHistory"`
	Evidence        *DeliveryEvidence `json:"deliveryEvidence,omitempty"`
}

// Party is the public subset of a user shown next to a donation.
type Party struct {
	ID               string  `db:"id" json:"id"`
	FirstName        string  `db:"first_name" json:"firstName"`
	LastName         string  `db:"last_name" json:"lastName"`
	OrganizationName *string `db:"organization_name" json:"organizationName,omitempty"`
}

// DashboardStats summarises the caller's open work.
type DashboardStats struct {
	ActiveDonations     int `json:"activeDonations"`
	PendingRequests     int `json:"pendingRequests"`
	UnreadNotifications int `json:"unreadNotifications"`
}
