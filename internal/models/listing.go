package models

import (
	"errors"
	"strings"
)

// ErrMissingSiteID is returned when a record lacks the site-native identifier
// required for persistence.
var ErrMissingSiteID = errors.New("listing has no site id")

// PhoneState tells apart a seller without a reveal control from a seller whose
// number did not render after the control was clicked.
type PhoneState int

const (
	PhoneNotOffered PhoneState = iota
	PhoneHidden
	PhoneRevealed
)

func (s PhoneState) String() string {
	switch s {
	case PhoneHidden:
		return "hidden"
	case PhoneRevealed:
		return "revealed"
	default:
		return "not_offered"
	}
}

// Delivery is the courier-delivery flag of a product. The zero value is "no".
type Delivery bool

const (
	DeliveryNo  Delivery = false
	DeliveryYes Delivery = true
)

func (d Delivery) String() string {
	if d {
		return "yes"
	}
	return "no"
}

// Seller holds seller attributes scraped from a listing page. A nil field was
// not present on the page.
type Seller struct {
	Name           *string    `json:"name"`
	PhoneNumber    *string    `json:"phone_number"`
	Phone          PhoneState `json:"-"`
	Rating         *string    `json:"rating"`
	RegisteredDate *string    `json:"registered_date"`
	LastActiveDate *string    `json:"last_active_date"`
	Location       *string    `json:"location"`
	Region         *string    `json:"region"`
}

// Product holds the product attributes of a listing. Price and dates are kept
// as raw page text.
type Product struct {
	Title         *string           `json:"title"`
	Price         *string           `json:"price"`
	PublishedDate *string           `json:"published_date"`
	Description   *string           `json:"description"`
	SiteID        *string           `json:"site_id"`
	ViewsCount    *string           `json:"views_count"`
	ImageURLs     []string          `json:"image_urls"`
	Delivery      Delivery          `json:"delivery"`
	TypeItem      *string           `json:"type_item"`
	Attributes    map[string]string `json:"attributes"`
	URL           string            `json:"url"`
}

// Record is the seller and product pair handed to storage for one listing.
type Record struct {
	Link    string  `json:"link"`
	Seller  Seller  `json:"seller"`
	Product Product `json:"product"`
}

// Validate reports whether the record is eligible for persistence.
func (r *Record) Validate() error {
	if r.Product.SiteID == nil || strings.TrimSpace(*r.Product.SiteID) == "" {
		return ErrMissingSiteID
	}
	return nil
}

// String returns a pointer to s, or nil when s is empty.
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to value or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
