package store

import "time"

// MerchantConfig is a read-only projection of a merchant's stored settings.
// It is loaded once per call and treated as immutable for that call's
// duration; settings edits made mid-call apply from the next call.
type MerchantConfig struct {
	ID           string `json:"id"`
	BusinessName string `json:"business_name"`
	BusinessType string `json:"business_type,omitempty"`
	Address      string `json:"address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`

	// Greeting is the merchant's custom greeting line. Empty means the
	// relay generates a time-of-day default.
	Greeting string `json:"greeting,omitempty"`

	// Voice selects the realtime voice; empty falls back to the
	// process-wide default.
	Voice string `json:"voice,omitempty"`

	Services     []Service         `json:"services,omitempty"`
	OpeningHours map[string]string `json:"opening_hours,omitempty"`
	FAQs         []FAQ             `json:"faqs,omitempty"`
}

// Service is one bookable offering from the merchant's knowledge base.
type Service struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Price           string `json:"price,omitempty"`
	Description     string `json:"description,omitempty"`
}

type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Customer is identified by (merchant_id, phone); created on first
// booking or lookup if absent.
type Customer struct {
	ID         string    `json:"id" db:"id"`
	MerchantID string    `json:"merchant_id" db:"merchant_id"`
	Phone      string    `json:"phone" db:"phone"`
	Name       string    `json:"name,omitempty" db:"name"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type AppointmentStatus string

const (
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is the authoritative booking record. CalendarEventID set
// means a mirror event was (best-effort) created in the merchant's
// external calendar; booking validity never depends on the mirror.
type Appointment struct {
	ID              string            `json:"id" db:"id"`
	MerchantID      string            `json:"merchant_id" db:"merchant_id"`
	CustomerID      string            `json:"customer_id" db:"customer_id"`
	ServiceName     string            `json:"service_name" db:"service_name"`
	StartTime       time.Time         `json:"start_time" db:"start_time"`
	EndTime         time.Time         `json:"end_time" db:"end_time"`
	Status          AppointmentStatus `json:"status" db:"status"`
	CalendarEventID string            `json:"calendar_event_id,omitempty" db:"calendar_event_id"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Message is a caller-left message, surfaced to the merchant out of band.
type Message struct {
	ID          string    `json:"id" db:"id"`
	MerchantID  string    `json:"merchant_id" db:"merchant_id"`
	CallerName  string    `json:"caller_name,omitempty" db:"caller_name"`
	CallerPhone string    `json:"caller_phone" db:"caller_phone"`
	Content     string    `json:"content" db:"content"`
	Urgency     Urgency   `json:"urgency" db:"urgency"`
	Read        bool      `json:"read" db:"read"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// CalendarCredential is the merchant's Cronofy OAuth material. Tokens are
// encrypted at rest; repositories return them decrypted.
type CalendarCredential struct {
	AccessToken  string
	RefreshToken string
	CalendarID   string
	ExpiresAt    time.Time
}
