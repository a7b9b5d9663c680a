package lifecycle

import (
	"strings"

	apperrors "github.com/Ramsey-B/courier/pkg/errors"
	"github.com/Ramsey-B/courier/pkg/models"
)

func validateLocation(field string, loc models.Location) error {
	if strings.TrimSpace(loc.Address) == "" || strings.TrimSpace(loc.City) == "" || strings.TrimSpace(loc.Country) == "" {
		return apperrors.Validation("%s requires address, city and country", field)
	}
	if loc.Latitude != nil && (*loc.Latitude < -90 || *loc.Latitude > 90) {
		return apperrors.Validation("%s latitude out of range", field)
	}
	if loc.Longitude != nil && (*loc.Longitude < -180 || *loc.Longitude > 180) {
		return apperrors.Validation("%s longitude out of range", field)
	}
	return nil
}

// normalizeDetails applies defaults and rejects invalid request attributes.
func normalizeDetails(d models.RequestDetails) (models.RequestDetails, error) {
	d.ProductName = strings.TrimSpace(d.ProductName)
	if d.ProductName == "" {
		return d, apperrors.Validation("product name is required")
	}
	if !d.Type.IsValid() {
		return d, apperrors.Validation("invalid request type %q", d.Type)
	}
	if d.Source == "" {
		d.Source = models.SourceOther
	}
	if !d.Source.IsValid() {
		return d, apperrors.Validation("invalid source %q", d.Source)
	}
	if d.Quantity == 0 {
		d.Quantity = 1
	}
	if d.Quantity < 1 {
		return d, apperrors.Validation("quantity must be at least 1")
	}
	if d.Weight != nil && *d.Weight < 0 {
		return d, apperrors.Validation("weight must not be negative")
	}
	if !d.ShippingType.IsValid() {
		return d, apperrors.Validation("invalid shipping type %q", d.ShippingType)
	}
	if d.PreferredContactMethod == "" {
		d.PreferredContactMethod = models.ContactEmail
	}
	if !d.PreferredContactMethod.IsValid() {
		return d, apperrors.Validation("invalid contact method %q", d.PreferredContactMethod)
	}
	if d.PreferredContactMethod != models.ContactEmail && (d.CustomerPhone == nil || strings.TrimSpace(*d.CustomerPhone) == "") {
		return d, apperrors.Validation("a phone number is required for %s contact", d.PreferredContactMethod)
	}
	if err := validateLocation("pickup location", d.PickupLocation); err != nil {
		return d, err
	}
	if err := validateLocation("delivery location", d.DeliveryLocation); err != nil {
		return d, err
	}
	return d, nil
}
