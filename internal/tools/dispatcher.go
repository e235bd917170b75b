package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicedesk/internal/calendar"
	"voicedesk/internal/store"
)

// Dispatcher validates tool-call arguments, executes the named business
// operation exactly once per request, and returns a JSON result. It
// never returns an error and never panics past its boundary: every
// failure becomes an {"error": ...} payload the voice agent can speak.

// appointmentDuration is fixed. Per-service durations exist in merchant
// config but are deliberately not consulted here.
const appointmentDuration = 30 * time.Minute

// mirrorEventPrefix derives the deterministic calendar event id from the
// appointment id, so cancellation can locate the mirror later.
const mirrorEventPrefix = "vd-"

// CalendarService is the slice of the calendar adapter the dispatcher
// consumes.
type CalendarService interface {
	AvailableSlots(ctx context.Context, merchantID, date string, openingHours map[string]string) []time.Time
	CreateMirrorEvent(ctx context.Context, merchantID string, ev calendar.Event) error
	DeleteMirrorEvent(ctx context.Context, merchantID, eventID string) error
}

type Dispatcher struct {
	merchants    store.MerchantRepository
	customers    store.CustomerRepository
	appointments store.AppointmentRepository
	messages     store.MessageRepository
	cal          CalendarService
	log          *slog.Logger

	clock func() time.Time
	newID func() string
	loc   *time.Location

	// mirrors tracks detached calendar mirror operations so shutdown
	// (and tests) can drain them.
	mirrors sync.WaitGroup
}

func NewDispatcher(st store.Store, cal CalendarService, log *slog.Logger) *Dispatcher {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		loc = time.UTC
	}
	return &Dispatcher{
		merchants:    st,
		customers:    st,
		appointments: st,
		messages:     st,
		cal:          cal,
		log:          log,
		clock:        time.Now,
		newID:        uuid.NewString,
		loc:          loc,
	}
}

// Wait blocks until all detached mirror operations have finished.
func (d *Dispatcher) Wait() { d.mirrors.Wait() }

// Execute runs one tool call. The result is always valid JSON.
func (d *Dispatcher) Execute(ctx context.Context, merchantID, toolName string, args json.RawMessage) json.RawMessage {
	var params map[string]string
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &params); err != nil {
			// The voice model occasionally sends numbers or booleans for
			// string-shaped fields; coerce before giving up.
			params = decodeLenient(args)
			if params == nil {
				return json.RawMessage(`{"error":"Invalid tool arguments"}`)
			}
		}
	}
	if params == nil {
		params = map[string]string{}
	}

	var result any
	switch toolName {
	case "lookupCustomer":
		result = d.lookupCustomer(ctx, merchantID, params)
	case "checkAvailability":
		result = d.checkAvailability(ctx, merchantID, params)
	case "createBooking":
		result = d.createBooking(ctx, merchantID, params)
	case "cancelBooking":
		result = d.cancelBooking(ctx, merchantID, params)
	case "takeMessage":
		result = d.takeMessage(ctx, merchantID, params)
	default:
		result = errResult{Error: "Unknown tool: " + toolName}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		d.log.Error("tool result marshal failed", "tool", toolName, "err", err)
		return json.RawMessage(`{"error":"internal error"}`)
	}
	return raw
}

type errResult struct {
	Error string `json:"error"`
}

func missingParams(params map[string]string, required ...string) (errResult, bool) {
	var missing []string
	for _, k := range required {
		if strings.TrimSpace(params[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return errResult{}, false
	}
	return errResult{Error: "Missing required parameter(s): " + strings.Join(missing, ", ")}, true
}

/* ===================== lookupCustomer ===================== */

func (d *Dispatcher) lookupCustomer(ctx context.Context, merchantID string, params map[string]string) any {
	if e, bad := missingParams(params, "phone"); bad {
		return e
	}
	c, found, err := d.customers.FindCustomerByPhone(ctx, merchantID, strings.TrimSpace(params["phone"]))
	if err != nil {
		d.log.Error("customer lookup failed", "merchant_id", merchantID, "err", err)
		return errResult{Error: "Could not look up customer"}
	}
	if !found {
		// A miss is a normal answer, not an error.
		return map[string]any{"found": false}
	}
	return map[string]any{"found": true, "customer": c}
}

/* ===================== checkAvailability ===================== */

func (d *Dispatcher) checkAvailability(ctx context.Context, merchantID string, params map[string]string) any {
	if e, bad := missingParams(params, "date"); bad {
		return e
	}

	var hours map[string]string
	cfg, err := d.merchants.GetConfig(ctx, merchantID)
	if err != nil {
		// Missing config only loses the opening-hours refinement; the
		// adapter's fallback still produces slots.
		d.log.Warn("merchant config load failed for availability", "merchant_id", merchantID, "err", err)
	} else {
		hours = cfg.OpeningHours
	}

	slots := d.cal.AvailableSlots(ctx, merchantID, strings.TrimSpace(params["date"]), hours)
	iso := make([]string, len(slots))
	for i, s := range slots {
		iso[i] = s.Format(time.RFC3339)
	}
	return map[string]any{"slots": iso}
}

/* ===================== createBooking ===================== */

func (d *Dispatcher) createBooking(ctx context.Context, merchantID string, params map[string]string) any {
	if e, bad := missingParams(params, "customerPhone", "service", "dateTime"); bad {
		return e
	}

	start, err := d.parseDateTime(params["dateTime"])
	if err != nil {
		return errResult{Error: fmt.Sprintf("Could not understand dateTime %q", params["dateTime"])}
	}

	// The customer row and the appointment commit together or not at
	// all; an existing customer keeps its identity.
	candidate := store.Customer{
		ID:         d.newID(),
		MerchantID: merchantID,
		Phone:      strings.TrimSpace(params["customerPhone"]),
		Name:       strings.TrimSpace(params["customerName"]),
		CreatedAt:  d.clock().UTC(),
	}
	customer, appt, err := d.appointments.BookAppointment(ctx, candidate, store.Appointment{
		ID:          d.newID(),
		MerchantID:  merchantID,
		ServiceName: strings.TrimSpace(params["service"]),
		StartTime:   start,
		EndTime:     start.Add(appointmentDuration),
		Status:      store.AppointmentConfirmed,
		CreatedAt:   d.clock().UTC(),
	})
	if err != nil {
		d.log.Error("booking write failed", "merchant_id", merchantID, "err", err)
		return bookingFailure("Could not create booking")
	}

	// Authoritative row is committed; the calendar mirror is strictly
	// best-effort and must not touch the result.
	d.spawnMirrorCreate(merchantID, appt, customer)

	return map[string]any{"success": true, "appointment": appt}
}

func bookingFailure(msg string) any {
	return map[string]any{"success": false, "error": msg}
}

func (d *Dispatcher) spawnMirrorCreate(merchantID string, appt store.Appointment, customer store.Customer) {
	d.mirrors.Add(1)
	go func() {
		defer d.mirrors.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		who := customer.Name
		if who == "" {
			who = customer.Phone
		}
		eventID := mirrorEventPrefix + appt.ID
		ev := calendar.Event{
			EventID:     eventID,
			Summary:     appt.ServiceName + " - " + who,
			Description: "Booked by phone via the AI receptionist",
			Start:       appt.StartTime,
			End:         appt.EndTime,
		}
		if err := d.cal.CreateMirrorEvent(ctx, merchantID, ev); err != nil {
			if err != calendar.ErrNoCredential {
				d.log.Warn("calendar mirror create failed", "merchant_id", merchantID, "appointment_id", appt.ID, "err", err)
			}
			return
		}
		if err := d.appointments.SetCalendarEventID(ctx, merchantID, appt.ID, eventID); err != nil {
			d.log.Warn("calendar event id persist failed", "merchant_id", merchantID, "appointment_id", appt.ID, "err", err)
		}
	}()
}

/* ===================== cancelBooking ===================== */

func (d *Dispatcher) cancelBooking(ctx context.Context, merchantID string, params map[string]string) any {
	if e, bad := missingParams(params, "customerPhone"); bad {
		return e
	}

	customer, found, err := d.customers.FindCustomerByPhone(ctx, merchantID, strings.TrimSpace(params["customerPhone"]))
	if err != nil {
		d.log.Error("customer lookup failed", "merchant_id", merchantID, "err", err)
		return bookingFailure("Could not cancel booking")
	}
	if !found {
		return bookingFailure("Customer not found")
	}

	var day *time.Time
	if raw := strings.TrimSpace(params["appointmentDate"]); raw != "" {
		if parsed, err := time.ParseInLocation("2006-01-02", raw, d.loc); err == nil {
			day = &parsed
		}
	}

	appt, found, err := d.appointments.FirstConfirmed(ctx, merchantID, customer.ID, day)
	if err != nil {
		d.log.Error("appointment lookup failed", "merchant_id", merchantID, "err", err)
		return bookingFailure("Could not cancel booking")
	}
	if !found {
		return bookingFailure("No appointment found")
	}

	if err := d.appointments.SetAppointmentStatus(ctx, merchantID, appt.ID, store.AppointmentCancelled); err != nil {
		d.log.Error("appointment cancel failed", "merchant_id", merchantID, "appointment_id", appt.ID, "err", err)
		return bookingFailure("Could not cancel booking")
	}

	if appt.CalendarEventID != "" {
		d.spawnMirrorDelete(merchantID, appt.ID, appt.CalendarEventID)
	}

	return map[string]any{"success": true}
}

func (d *Dispatcher) spawnMirrorDelete(merchantID, appointmentID, eventID string) {
	d.mirrors.Add(1)
	go func() {
		defer d.mirrors.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.cal.DeleteMirrorEvent(ctx, merchantID, eventID); err != nil && err != calendar.ErrNoCredential {
			d.log.Warn("calendar mirror delete failed", "merchant_id", merchantID, "appointment_id", appointmentID, "err", err)
		}
	}()
}

/* ===================== takeMessage ===================== */

func (d *Dispatcher) takeMessage(ctx context.Context, merchantID string, params map[string]string) any {
	if e, bad := missingParams(params, "callerPhone", "message"); bad {
		return e
	}

	urgency := store.Urgency(strings.ToLower(strings.TrimSpace(params["urgency"])))
	switch urgency {
	case store.UrgencyLow, store.UrgencyMedium, store.UrgencyHigh:
	default:
		urgency = store.UrgencyMedium
	}

	msg := store.Message{
		ID:          d.newID(),
		MerchantID:  merchantID,
		CallerName:  strings.TrimSpace(params["callerName"]),
		CallerPhone: strings.TrimSpace(params["callerPhone"]),
		Content:     strings.TrimSpace(params["message"]),
		Urgency:     urgency,
		CreatedAt:   d.clock().UTC(),
	}
	if err := d.messages.InsertMessage(ctx, msg); err != nil {
		d.log.Error("message insert failed", "merchant_id", merchantID, "err", err)
		return bookingFailure("Could not save message")
	}
	return map[string]any{"success": true, "messageId": msg.ID}
}

/* ===================== helpers ===================== */

// parseDateTime accepts RFC3339 or a bare local timestamp
// ("2024-06-10T10:00:00"), which is how the voice agent usually phrases
// booking times.
func (d *Dispatcher) parseDateTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", raw, d.loc)
}

// decodeLenient coerces a JSON object with mixed value types into a
// string map, so numeric or boolean-typed arguments from the model do
// not kill the tool call.
func decodeLenient(args json.RawMessage) map[string]string {
	var anyMap map[string]any
	if err := json.Unmarshal(args, &anyMap); err != nil {
		return nil
	}
	out := make(map[string]string, len(anyMap))
	for k, v := range anyMap {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = fmt.Sprintf("%v", val)
		case bool:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
