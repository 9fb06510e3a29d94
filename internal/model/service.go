package model

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ServiceDefinition is a bookable service with its duration and booking rules.
type ServiceDefinition struct {
	ID          string `validate:"-"`
	Name        string `validate:"required"`
	Description string
	Active      bool

	DurationMinutes int    `validate:"required,gt=0"`
	BufferMinutes   int    `validate:"gte=0"`
	Capacity        int    `validate:"gte=1"`
	Price           float64 `validate:"gte=0"`
	Currency        string

	MinLeadHours      int `validate:"gte=0"`
	MaxLeadDays       int `validate:"gte=0"`
	AllowCancellation bool
	CancellationHours int `validate:"gte=0"`
	AllowReschedule   bool

	// Provider binding. CalendarID is the provider-native calendar, ConfigID
	// the default ProviderConfig used to mirror appointments; both optional.
	CalendarID string
	ConfigID   string

	CreatedAt time.Time
}

func (s ServiceDefinition) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

var validate = validator.New()

// Validate rejects structurally invalid services. The lead-time comparison is
// deliberately unit-mixed (hours vs days*24); see the cross-check note below.
func (s ServiceDefinition) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid service: %w", err)
	}
	// A minimum lead time beyond the entire booking horizon would make the
	// service unbookable. Exact semantics kept from the previous system: do
	// not change the comparison without confirming operator intent.
	if s.MinLeadHours > s.MaxLeadDays*24 {
		return fmt.Errorf("minimum lead time (%d hours) cannot exceed maximum advance booking (%d days)", s.MinLeadHours, s.MaxLeadDays)
	}
	return nil
}
