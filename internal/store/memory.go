package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store useful for tests and early development.
// Guarded by one mutex: calendar mirror writes arrive from detached
// goroutines, so even tests see concurrent access.
//
// NOTE: not intended for production; use Postgres.
type Memory struct {
	mu sync.Mutex

	Configs     map[string]MerchantConfig
	Numbers     map[string]string // dialed number -> merchant id
	Credentials map[string]CalendarCredential

	Customers    []Customer
	Appointments []Appointment
	Messages     []Message
}

func NewMemory() *Memory {
	return &Memory{
		Configs:     map[string]MerchantConfig{},
		Numbers:     map[string]string{},
		Credentials: map[string]CalendarCredential{},
	}
}

func (m *Memory) GetConfig(ctx context.Context, merchantID string) (MerchantConfig, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.Configs[merchantID]
	if !ok {
		return MerchantConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (m *Memory) ResolveByNumber(ctx context.Context, phoneNumber string) (string, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.Numbers[phoneNumber]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (m *Memory) GetCalendarCredential(ctx context.Context, merchantID string) (CalendarCredential, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.Credentials[merchantID]
	if !ok {
		return CalendarCredential{}, false, nil
	}
	return cred, true, nil
}

func (m *Memory) SaveCalendarCredential(ctx context.Context, merchantID string, cred CalendarCredential) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Credentials[merchantID] = cred
	return nil
}

func (m *Memory) FindCustomerByPhone(ctx context.Context, merchantID, phone string) (Customer, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Customers {
		if c.MerchantID == merchantID && c.Phone == phone {
			return c, true, nil
		}
	}
	return Customer{}, false, nil
}

func (m *Memory) CreateCustomer(ctx context.Context, c Customer) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Customers = append(m.Customers, c)
	return nil
}

func (m *Memory) InsertAppointment(ctx context.Context, a Appointment) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Appointments = append(m.Appointments, a)
	return nil
}

func (m *Memory) BookAppointment(ctx context.Context, c Customer, a Appointment) (Customer, Appointment, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, existing := range m.Customers {
		if existing.MerchantID == c.MerchantID && existing.Phone == c.Phone {
			c = existing
			found = true
			break
		}
	}
	if !found {
		m.Customers = append(m.Customers, c)
	}
	a.CustomerID = c.ID
	m.Appointments = append(m.Appointments, a)
	return c, a, nil
}

func (m *Memory) FirstConfirmed(ctx context.Context, merchantID, customerID string, day *time.Time) (Appointment, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	var best Appointment
	found := false
	for _, a := range m.Appointments {
		if a.MerchantID != merchantID || a.CustomerID != customerID {
			continue
		}
		if a.Status != AppointmentConfirmed {
			continue
		}
		if day != nil {
			y1, m1, d1 := a.StartTime.Date()
			y2, m2, d2 := day.Date()
			if y1 != y2 || m1 != m2 || d1 != d2 {
				continue
			}
		}
		if !found || a.StartTime.Before(best.StartTime) {
			best = a
			found = true
		}
	}
	return best, found, nil
}

func (m *Memory) SetAppointmentStatus(ctx context.Context, merchantID, appointmentID string, status AppointmentStatus) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Appointments {
		if m.Appointments[i].MerchantID == merchantID && m.Appointments[i].ID == appointmentID {
			m.Appointments[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) SetCalendarEventID(ctx context.Context, merchantID, appointmentID, eventID string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Appointments {
		if m.Appointments[i].MerchantID == merchantID && m.Appointments[i].ID == appointmentID {
			m.Appointments[i].CalendarEventID = eventID
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListAppointments(ctx context.Context, merchantID string, limit int) ([]Appointment, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.Appointments {
		if a.MerchantID == merchantID {
			out = append(out, a)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg Message) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *Memory) ListMessages(ctx context.Context, merchantID string, limit int) ([]Message, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.Messages {
		if msg.MerchantID == merchantID {
			out = append(out, msg)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkMessageRead(ctx context.Context, merchantID, messageID string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Messages {
		if m.Messages[i].MerchantID == merchantID && m.Messages[i].ID == messageID {
			m.Messages[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

var _ Store = (*Memory)(nil)
var _ Store = (*Postgres)(nil)
