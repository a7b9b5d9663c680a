package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/courier/pkg/database"
)

type RequestType string

const (
	RequestTypeProductDelivery RequestType = "product_delivery"
	RequestTypeDocument        RequestType = "document"
	RequestTypePackage         RequestType = "package"
	RequestTypeCustom          RequestType = "custom"
)

func (t RequestType) IsValid() bool {
	switch t {
	case RequestTypeProductDelivery, RequestTypeDocument, RequestTypePackage, RequestTypeCustom:
		return true
	}
	return false
}

type ShippingType string

const (
	ShippingNational      ShippingType = "national"
	ShippingInternational ShippingType = "international"
)

func (t ShippingType) IsValid() bool {
	return t == ShippingNational || t == ShippingInternational
}

type Source string

const (
	SourceAmazon             Source = "amazon"
	SourceEbay               Source = "ebay"
	SourceNationalStore      Source = "national_store"
	SourceInternationalStore Source = "international_store"
	SourceOther              Source = "other"
)

func (s Source) IsValid() bool {
	switch s {
	case SourceAmazon, SourceEbay, SourceNationalStore, SourceInternationalStore, SourceOther:
		return true
	}
	return false
}

type ContactMethod string

const (
	ContactEmail    ContactMethod = "email"
	ContactWhatsApp ContactMethod = "whatsapp"
	ContactBoth     ContactMethod = "both"
)

func (m ContactMethod) IsValid() bool {
	return m == ContactEmail || m == ContactWhatsApp || m == ContactBoth
}

type PaymentMethod string

const (
	PaymentCard        PaymentMethod = "card"
	PaymentACHTransfer PaymentMethod = "ach_transfer"
	PaymentBankDeposit PaymentMethod = "bank_deposit"
	PaymentCash        PaymentMethod = "cash"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCard, PaymentACHTransfer, PaymentBankDeposit, PaymentCash:
		return true
	}
	return false
}

// Location is a structured pickup or delivery address.
type Location struct {
	Address   string   `json:"address"`
	City      string   `json:"city"`
	State     string   `json:"state,omitempty"`
	Country   string   `json:"country"`
	ZipCode   string   `json:"zip_code,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Request is a customer's delivery request. ClaimedByAgentID and Status are
// only written through the lifecycle engine's conditional updates.
type Request struct {
	ID                     uuid.UUID                `db:"id" json:"id"`
	CustomerID             uuid.UUID                `db:"customer_id" json:"customer_id"`
	ClaimedByAgentID       *uuid.UUID               `db:"claimed_by_agent_id" json:"claimed_by_agent_id,omitempty"`
	Type                   RequestType              `db:"type" json:"type"`
	Source                 Source                   `db:"source" json:"source"`
	ProductName            string                   `db:"product_name" json:"product_name"`
	ProductDescription     *string                  `db:"product_description" json:"product_description,omitempty"`
	ProductURL             *string                  `db:"product_url" json:"product_url,omitempty"`
	ProductImages          pq.StringArray           `db:"product_images" json:"product_images"`
	Weight                 *float64                 `db:"weight" json:"weight,omitempty"`
	Quantity               int                      `db:"quantity" json:"quantity"`
	ShippingType           ShippingType             `db:"shipping_type" json:"shipping_type"`
	PickupLocation         database.JSONB[Location] `db:"pickup_location" json:"pickup_location"`
	DeliveryLocation       database.JSONB[Location] `db:"delivery_location" json:"delivery_location"`
	PreferredContactMethod ContactMethod            `db:"preferred_contact_method" json:"preferred_contact_method"`
	CustomerPhone          *string                  `db:"customer_phone" json:"customer_phone,omitempty"`
	Notes                  *string                  `db:"notes" json:"notes,omitempty"`
	PaymentMethod          *PaymentMethod           `db:"payment_method" json:"payment_method,omitempty"`
	PaymentProof           *string                  `db:"payment_proof" json:"payment_proof,omitempty"`
	Status                 RequestStatus            `db:"status" json:"status"`
	ClaimedAt              *time.Time               `db:"claimed_at" json:"claimed_at,omitempty"`
	CompletedAt            *time.Time               `db:"completed_at" json:"completed_at,omitempty"`
	CancelledReason        *string                  `db:"cancelled_reason" json:"cancelled_reason,omitempty"`
	Version                int                      `db:"version" json:"version"`
	CreatedAt              time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time                `db:"updated_at" json:"updated_at"`
	DeletedAt              *time.Time               `db:"deleted_at" json:"-"`
}

func (r *Request) TableName() string {
	return "requests"
}

func (r *Request) IsClaimedBy(agentID uuid.UUID) bool {
	return r.ClaimedByAgentID != nil && *r.ClaimedByAgentID == agentID
}

func (r *Request) IsOwnedBy(customerID uuid.UUID) bool {
	return r.CustomerID == customerID
}

// RequestDetails are the customer-editable attributes of a request.
type RequestDetails struct {
	Type                   RequestType
	Source                 Source
	ProductName            string
	ProductDescription     *string
	ProductURL             *string
	ProductImages          []string
	Weight                 *float64
	Quantity               int
	ShippingType           ShippingType
	PickupLocation         Location
	DeliveryLocation       Location
	PreferredContactMethod ContactMethod
	CustomerPhone          *string
	Notes                  *string
}

// Apply copies the details onto the request.
func (d RequestDetails) Apply(r *Request) {
	r.Type = d.Type
	r.Source = d.Source
	r.ProductName = d.ProductName
	r.ProductDescription = d.ProductDescription
	r.ProductURL = d.ProductURL
	r.ProductImages = pq.StringArray(d.ProductImages)
	if r.ProductImages == nil {
		r.ProductImages = pq.StringArray{}
	}
	r.Weight = d.Weight
	r.Quantity = d.Quantity
	r.ShippingType = d.ShippingType
	r.PickupLocation = database.JSONB[Location]{Data: d.PickupLocation}
	r.DeliveryLocation = database.JSONB[Location]{Data: d.DeliveryLocation}
	r.PreferredContactMethod = d.PreferredContactMethod
	r.CustomerPhone = d.CustomerPhone
	r.Notes = d.Notes
}

// TransitionCondition is the expected current state a conditional update is
// keyed on. A zero Version skips the version check.
type TransitionCondition struct {
	Status  RequestStatus
	Version int
	AgentID *uuid.UUID
}

// TransitionChange describes the columns a status transition writes.
type TransitionChange struct {
	Status          RequestStatus
	ClearClaim      bool
	CompletedAt     *time.Time
	CancelledReason *string
	PaymentMethod   *PaymentMethod
	PaymentProof    *string
}

type RequestFilter struct {
	Status       *RequestStatus
	Type         *RequestType
	ShippingType *ShippingType
	Page         int
	Limit        int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize applies paging defaults and bounds.
func (f RequestFilter) Normalize() RequestFilter {
	f.Page, f.Limit = normalizePaging(f.Page, f.Limit)
	return f
}

func normalizePaging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

func (f RequestFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Matches reports whether req passes the attribute filters.
func (f RequestFilter) Matches(req *Request) bool {
	if f.Status != nil && req.Status != *f.Status {
		return false
	}
	if f.Type != nil && req.Type != *f.Type {
		return false
	}
	if f.ShippingType != nil && req.ShippingType != *f.ShippingType {
		return false
	}
	return true
}

type PageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type RequestPage struct {
	Data []Request `json:"data"`
	Meta PageMeta  `json:"meta"`
}

func NewPageMeta(filter RequestFilter, total int) PageMeta {
	return pageMeta(filter.Page, filter.Limit, total)
}

func pageMeta(page, limit, total int) PageMeta {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return PageMeta{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
	}
}
