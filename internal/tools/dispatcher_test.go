package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"voicedesk/internal/calendar"
	"voicedesk/internal/store"
)

// fakeCalendar is mutex-guarded: mirror ops arrive from detached
// goroutines.
type fakeCalendar struct {
	mu        sync.Mutex
	slots     []time.Time
	created   []calendar.Event
	deleted   []string
	createErr error
	deleteErr error
}

func (f *fakeCalendar) AvailableSlots(_ context.Context, _, _ string, _ map[string]string) []time.Time {
	return f.slots
}

func (f *fakeCalendar) CreateMirrorEvent(_ context.Context, _ string, ev calendar.Event) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, ev)
	return nil
}

func (f *fakeCalendar) DeleteMirrorEvent(_ context.Context, _, eventID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	return nil
}

func newTestDispatcher(mem *store.Memory, cal CalendarService) *Dispatcher {
	d := NewDispatcher(mem, cal, slog.Default())
	n := 0
	d.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	d.clock = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return d
}

func exec(t *testing.T, d *Dispatcher, merchantID, tool, args string) map[string]any {
	t.Helper()
	raw := d.Execute(context.Background(), merchantID, tool, json.RawMessage(args))
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("tool result is not JSON: %v (%s)", err, raw)
	}
	return out
}

func TestExecute_UnknownTool(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(mem, &fakeCalendar{})

	out := exec(t, d, "m1", "transferFunds", `{}`)
	if out["error"] != "Unknown tool: transferFunds" {
		t.Fatalf("expected unknown-tool error, got %v", out)
	}
	if len(mem.Customers)+len(mem.Appointments)+len(mem.Messages) != 0 {
		t.Fatalf("unknown tool must not write")
	}
}

func TestExecute_MissingParamsDoNotWrite(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(mem, &fakeCalendar{})

	cases := []struct {
		tool string
		args string
	}{
		{"lookupCustomer", `{}`},
		{"checkAvailability", `{}`},
		{"createBooking", `{"customerPhone":"+441234567890"}`},
		{"cancelBooking", `{}`},
		{"takeMessage", `{"callerPhone":"+441234567890"}`},
	}
	for _, tc := range cases {
		out := exec(t, d, "m1", tc.tool, tc.args)
		msg, _ := out["error"].(string)
		if !strings.HasPrefix(msg, "Missing required parameter") {
			t.Fatalf("%s: expected missing-parameter error, got %v", tc.tool, out)
		}
	}
	if len(mem.Customers)+len(mem.Appointments)+len(mem.Messages) != 0 {
		t.Fatalf("validation failures must not write")
	}
}

func TestExecute_InvalidArgumentsJSON(t *testing.T) {
	d := newTestDispatcher(store.NewMemory(), &fakeCalendar{})
	out := exec(t, d, "m1", "lookupCustomer", `{"phone":`)
	if out["error"] != "Invalid tool arguments" {
		t.Fatalf("expected invalid-arguments error, got %v", out)
	}
}

func TestLookupCustomer_MissIsNotAnError(t *testing.T) {
	d := newTestDispatcher(store.NewMemory(), &fakeCalendar{})
	out := exec(t, d, "m1", "lookupCustomer", `{"phone":"+447700900123"}`)
	if out["found"] != false {
		t.Fatalf("expected found=false, got %v", out)
	}
	if _, hasErr := out["error"]; hasErr {
		t.Fatalf("a miss must not be an error: %v", out)
	}
}

func TestCreateBooking_EndToEnd(t *testing.T) {
	mem := store.NewMemory()
	cal := &fakeCalendar{}
	d := newTestDispatcher(mem, cal)

	out := exec(t, d, "m1", "createBooking",
		`{"customerPhone":"+447700900123","customerName":"Jane","service":"Haircut","dateTime":"2024-06-10T10:00:00"}`)
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
	d.Wait()

	if len(mem.Customers) != 1 {
		t.Fatalf("expected auto-created customer, got %d", len(mem.Customers))
	}
	c := mem.Customers[0]
	if c.Phone != "+447700900123" || c.Name != "Jane" {
		t.Fatalf("unexpected customer: %+v", c)
	}

	if len(mem.Appointments) != 1 {
		t.Fatalf("expected one appointment, got %d", len(mem.Appointments))
	}
	a := mem.Appointments[0]
	if a.Status != store.AppointmentConfirmed || a.ServiceName != "Haircut" {
		t.Fatalf("unexpected appointment: %+v", a)
	}
	if !a.EndTime.Equal(a.StartTime.Add(30 * time.Minute)) {
		t.Fatalf("expected 30-minute duration, got %v to %v", a.StartTime, a.EndTime)
	}
	if a.StartTime.Hour() != 10 || a.StartTime.Minute() != 0 {
		t.Fatalf("expected 10:00 start, got %v", a.StartTime)
	}

	if len(cal.created) != 1 {
		t.Fatalf("expected one mirror event, got %d", len(cal.created))
	}
	if cal.created[0].EventID != "vd-"+a.ID {
		t.Fatalf("expected deterministic mirror id, got %q", cal.created[0].EventID)
	}
	if a.CalendarEventID != "vd-"+a.ID {
		t.Fatalf("expected calendar event id recorded, got %q", a.CalendarEventID)
	}
}

func TestCreateBooking_ReusesExistingCustomer(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(mem, &fakeCalendar{})

	exec(t, d, "m1", "createBooking",
		`{"customerPhone":"+447700900123","customerName":"Jane","service":"Haircut","dateTime":"2024-06-10T10:00:00"}`)
	exec(t, d, "m1", "createBooking",
		`{"customerPhone":"+447700900123","service":"Beard trim","dateTime":"2024-06-11T10:00:00"}`)
	d.Wait()

	if len(mem.Customers) != 1 {
		t.Fatalf("second booking must reuse the customer row, got %d", len(mem.Customers))
	}
	if len(mem.Appointments) != 2 {
		t.Fatalf("expected two appointments, got %d", len(mem.Appointments))
	}
	for _, a := range mem.Appointments {
		if a.CustomerID != mem.Customers[0].ID {
			t.Fatalf("appointment not linked to the shared customer: %+v", a)
		}
	}
}

func TestCreateBooking_SucceedsWhenMirrorFails(t *testing.T) {
	mem := store.NewMemory()
	cal := &fakeCalendar{createErr: errors.New("cronofy down")}
	d := newTestDispatcher(mem, cal)

	out := exec(t, d, "m1", "createBooking",
		`{"customerPhone":"+447700900123","service":"Haircut","dateTime":"2024-06-10T10:00:00"}`)
	if out["success"] != true {
		t.Fatalf("mirror failure must not fail the booking: %v", out)
	}
	d.Wait()

	if len(mem.Appointments) != 1 || mem.Appointments[0].Status != store.AppointmentConfirmed {
		t.Fatalf("appointment row must survive mirror failure: %+v", mem.Appointments)
	}
	if mem.Appointments[0].CalendarEventID != "" {
		t.Fatalf("no event id should be recorded on mirror failure")
	}
}

func TestCreateThenCancel_LeavesOneCancelledRowAndDeletesMirror(t *testing.T) {
	mem := store.NewMemory()
	cal := &fakeCalendar{}
	d := newTestDispatcher(mem, cal)

	exec(t, d, "m1", "createBooking",
		`{"customerPhone":"+447700900123","customerName":"Jane","service":"Haircut","dateTime":"2024-06-10T10:00:00"}`)
	d.Wait()

	out := exec(t, d, "m1", "cancelBooking",
		`{"customerPhone":"+447700900123","appointmentDate":"2024-06-10"}`)
	if out["success"] != true {
		t.Fatalf("expected cancel success, got %v", out)
	}
	d.Wait()

	if len(mem.Appointments) != 1 {
		t.Fatalf("expected exactly one appointment row, got %d", len(mem.Appointments))
	}
	if mem.Appointments[0].Status != store.AppointmentCancelled {
		t.Fatalf("expected cancelled status, got %s", mem.Appointments[0].Status)
	}
	if len(cal.deleted) != 1 || cal.deleted[0] != mem.Appointments[0].CalendarEventID {
		t.Fatalf("expected exactly one mirror delete for %q, got %v", mem.Appointments[0].CalendarEventID, cal.deleted)
	}
}

func TestCancelBooking_NotFoundCases(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(mem, &fakeCalendar{})

	out := exec(t, d, "m1", "cancelBooking", `{"customerPhone":"+440000000000"}`)
	if out["success"] != false || out["error"] != "Customer not found" {
		t.Fatalf("expected customer-not-found, got %v", out)
	}

	_ = mem.CreateCustomer(context.Background(), store.Customer{ID: "c1", MerchantID: "m1", Phone: "+440000000000"})
	out = exec(t, d, "m1", "cancelBooking", `{"customerPhone":"+440000000000"}`)
	if out["success"] != false || out["error"] != "No appointment found" {
		t.Fatalf("expected no-appointment error, got %v", out)
	}
}

func TestTakeMessage_DefaultsUrgency(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(mem, &fakeCalendar{})

	out := exec(t, d, "m1", "takeMessage",
		`{"callerPhone":"+441234567890","message":"please call back"}`)
	if out["success"] != true || out["messageId"] == "" {
		t.Fatalf("expected success with messageId, got %v", out)
	}
	if len(mem.Messages) != 1 || mem.Messages[0].Urgency != store.UrgencyMedium {
		t.Fatalf("expected medium urgency default, got %+v", mem.Messages)
	}

	exec(t, d, "m1", "takeMessage",
		`{"callerPhone":"+441234567890","message":"burst pipe","urgency":"high"}`)
	if mem.Messages[1].Urgency != store.UrgencyHigh {
		t.Fatalf("expected high urgency, got %s", mem.Messages[1].Urgency)
	}
}

func TestCheckAvailability_FormatsSlots(t *testing.T) {
	mem := store.NewMemory()
	mem.Configs["m1"] = store.MerchantConfig{ID: "m1", BusinessName: "Shear Genius",
		OpeningHours: map[string]string{"Monday": "09:00-17:00"}}
	loc, _ := time.LoadLocation("Europe/London")
	cal := &fakeCalendar{slots: []time.Time{
		time.Date(2024, 6, 10, 9, 0, 0, 0, loc),
		time.Date(2024, 6, 10, 9, 30, 0, 0, loc),
	}}
	d := newTestDispatcher(mem, cal)

	out := exec(t, d, "m1", "checkAvailability", `{"date":"2024-06-10"}`)
	slots, ok := out["slots"].([]any)
	if !ok || len(slots) != 2 {
		t.Fatalf("expected two slots, got %v", out)
	}
	if _, err := time.Parse(time.RFC3339, slots[0].(string)); err != nil {
		t.Fatalf("slots must be RFC3339: %v", err)
	}
}

func TestDefinitions_CoverDispatchSwitch(t *testing.T) {
	defs := Definitions()
	if len(defs) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(defs))
	}
	mem := store.NewMemory()
	d := newTestDispatcher(mem, &fakeCalendar{})
	for _, def := range defs {
		out := exec(t, d, "m1", def.Name, `{}`)
		if out["error"] == "Unknown tool: "+def.Name {
			t.Fatalf("declared tool %s is not dispatchable", def.Name)
		}
	}
}
