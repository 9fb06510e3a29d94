package model

import "time"

type AppointmentStatus string

const (
	StatusDraft     AppointmentStatus = "draft"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCheckedIn AppointmentStatus = "checked_in"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
	StatusCancelled AppointmentStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from the status.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

type CreatedVia string

const (
	ViaManual CreatedVia = "manual"
	ViaAPI    CreatedVia = "api"
	ViaPortal CreatedVia = "portal"
)

// Appointment is a customer booking for one service, optionally mirrored to a
// remote calendar event (ProviderEventID set once synced).
type Appointment struct {
	ID        string
	Reference string

	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	PortalUserID  string

	ServiceID string
	Start     time.Time
	End       time.Time

	Status     AppointmentStatus
	CreatedVia CreatedVia
	Notes      string

	Provider        ProviderKind
	ProviderEventID string
	// ConfigID overrides the service's default provider config when set.
	ConfigID string

	ReminderSent bool
	CreatedAt    time.Time
}

func (a Appointment) DurationMinutes() int {
	return int(a.End.Sub(a.Start) / time.Minute)
}

// EventData is the provider-agnostic representation of a remote calendar event.
type EventData struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
	Location    string
	Status      string
}

// PrepareEventData builds the remote event mirror for an appointment.
func (a Appointment) PrepareEventData(serviceName string) EventData {
	summary := serviceName
	if a.CustomerName != "" {
		summary = serviceName + " - " + a.CustomerName
	}
	var attendees []string
	if a.CustomerEmail != "" {
		attendees = append(attendees, a.CustomerEmail)
	}
	return EventData{
		Summary:     summary,
		Description: a.Notes,
		Start:       a.Start,
		End:         a.End,
		Attendees:   attendees,
	}
}

// Slot is a transient bookable interval; produced by the availability engine,
// never persisted.
type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
	Capacity  int
}
