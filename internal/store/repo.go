package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrInvalidArgument = errors.New("store: invalid argument")
)

// Method names are unique across interfaces so one backing store can
// implement all of them.

// MerchantRepository reads merchant identity/knowledge-base config and
// owns the calendar credential record.
type MerchantRepository interface {
	// GetConfig loads the merchant's configuration snapshot for one call.
	GetConfig(ctx context.Context, merchantID string) (MerchantConfig, error)

	// ResolveByNumber maps a dialed E.164 number to the owning merchant.
	ResolveByNumber(ctx context.Context, phoneNumber string) (string, error)

	// GetCalendarCredential returns decrypted tokens. ok=false means the
	// merchant has no calendar integration configured, which is not an error.
	GetCalendarCredential(ctx context.Context, merchantID string) (CalendarCredential, bool, error)

	// SaveCalendarCredential persists refreshed tokens (last-write-wins).
	SaveCalendarCredential(ctx context.Context, merchantID string, cred CalendarCredential) error
}

type CustomerRepository interface {
	FindCustomerByPhone(ctx context.Context, merchantID, phone string) (Customer, bool, error)
	CreateCustomer(ctx context.Context, c Customer) error
}

type AppointmentRepository interface {
	InsertAppointment(ctx context.Context, a Appointment) error

	// BookAppointment ensures a customer row for (merchantID, phone)
	// exists and inserts the appointment, atomically. The passed
	// customer is the candidate for insertion; when a row already
	// exists its identity wins. Returns the customer actually used and
	// the appointment with CustomerID filled in.
	BookAppointment(ctx context.Context, c Customer, a Appointment) (Customer, Appointment, error)

	// FirstConfirmed returns the earliest confirmed appointment for the
	// customer, optionally restricted to the calendar day of `day`.
	FirstConfirmed(ctx context.Context, merchantID, customerID string, day *time.Time) (Appointment, bool, error)

	SetAppointmentStatus(ctx context.Context, merchantID, appointmentID string, status AppointmentStatus) error
	SetCalendarEventID(ctx context.Context, merchantID, appointmentID, eventID string) error

	ListAppointments(ctx context.Context, merchantID string, limit int) ([]Appointment, error)
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, m Message) error
	ListMessages(ctx context.Context, merchantID string, limit int) ([]Message, error)
	MarkMessageRead(ctx context.Context, merchantID, messageID string) error
}

// Store bundles every repository; *Postgres and *Memory both satisfy it.
type Store interface {
	MerchantRepository
	CustomerRepository
	AppointmentRepository
	MessageRepository
}
