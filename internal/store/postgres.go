package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voicedesk/pkg/utils"
)

// NOTE: This repository assumes the following tables exist:
// - merchants (incl. cronofy_access_token, cronofy_refresh_token,
//   cronofy_calendar_id, cronofy_token_expires_at)
// - knowledge_bases (services/faqs/opening_hours as JSONB)
// - customers (UNIQUE (merchant_id, phone))
// - appointments
// - messages

// Postgres implements every repository interface over database/sql.
// Calendar tokens go through the cipher on both read and write.
type Postgres struct {
	db     *sql.DB
	cipher *Cipher
}

func NewPostgres(db *sql.DB, cipher *Cipher) *Postgres {
	return &Postgres{db: db, cipher: cipher}
}

/* ===================== MERCHANTS ===================== */

func (p *Postgres) GetConfig(ctx context.Context, merchantID string) (MerchantConfig, error) {
	const q = `
SELECT m.id, m.business_name, m.business_type, m.address, m.phone_number, m.greeting, m.voice,
       kb.services, kb.faqs, kb.opening_hours
FROM merchants m
LEFT JOIN knowledge_bases kb ON kb.merchant_id = m.id
WHERE m.id = $1
`
	var (
		cfg                              MerchantConfig
		bizType, addr, phone, greet, vox sql.NullString
		services, faqs, hours            []byte
	)
	err := p.db.QueryRowContext(ctx, q, merchantID).Scan(
		&cfg.ID,
		&cfg.BusinessName,
		&bizType,
		&addr,
		&phone,
		&greet,
		&vox,
		&services,
		&faqs,
		&hours,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MerchantConfig{}, ErrNotFound
		}
		return MerchantConfig{}, err
	}
	cfg.BusinessType = bizType.String
	cfg.Address = addr.String
	cfg.PhoneNumber = phone.String
	cfg.Greeting = greet.String
	cfg.Voice = vox.String

	// Knowledge-base columns are JSONB and may be NULL for new merchants.
	if len(services) > 0 {
		if err := json.Unmarshal(services, &cfg.Services); err != nil {
			return MerchantConfig{}, fmt.Errorf("decode services: %w", err)
		}
	}
	if len(faqs) > 0 {
		if err := json.Unmarshal(faqs, &cfg.FAQs); err != nil {
			return MerchantConfig{}, fmt.Errorf("decode faqs: %w", err)
		}
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &cfg.OpeningHours); err != nil {
			return MerchantConfig{}, fmt.Errorf("decode opening_hours: %w", err)
		}
	}
	return cfg, nil
}

func (p *Postgres) ResolveByNumber(ctx context.Context, phoneNumber string) (string, error) {
	const q = `SELECT id FROM merchants WHERE phone_number = $1`
	var id string
	if err := p.db.QueryRowContext(ctx, q, phoneNumber).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return id, nil
}

func (p *Postgres) GetCalendarCredential(ctx context.Context, merchantID string) (CalendarCredential, bool, error) {
	const q = `
SELECT cronofy_access_token, cronofy_refresh_token, cronofy_calendar_id, cronofy_token_expires_at
FROM merchants
WHERE id = $1
`
	var (
		access, refresh, calID sql.NullString
		expiresAt              sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, q, merchantID).Scan(&access, &refresh, &calID, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CalendarCredential{}, false, ErrNotFound
		}
		return CalendarCredential{}, false, err
	}
	if !access.Valid || access.String == "" {
		// Merchant exists but has never connected a calendar.
		return CalendarCredential{}, false, nil
	}

	cred := CalendarCredential{CalendarID: calID.String}
	if expiresAt.Valid {
		cred.ExpiresAt = expiresAt.Time
	}
	cred.AccessToken, err = p.cipher.Decrypt(access.String)
	if err != nil {
		return CalendarCredential{}, false, fmt.Errorf("decrypt access token: %w", err)
	}
	if refresh.Valid && refresh.String != "" {
		cred.RefreshToken, err = p.cipher.Decrypt(refresh.String)
		if err != nil {
			return CalendarCredential{}, false, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return cred, true, nil
}

func (p *Postgres) SaveCalendarCredential(ctx context.Context, merchantID string, cred CalendarCredential) error {
	access, err := p.cipher.Encrypt(cred.AccessToken)
	if err != nil {
		return err
	}
	var refresh sql.NullString
	if cred.RefreshToken != "" {
		enc, err := p.cipher.Encrypt(cred.RefreshToken)
		if err != nil {
			return err
		}
		refresh = sql.NullString{String: enc, Valid: true}
	}

	// Last-write-wins: concurrent refreshes across calls both succeed and
	// the later one sticks.
	const q = `
UPDATE merchants
SET cronofy_access_token = $2,
    cronofy_refresh_token = COALESCE($3, cronofy_refresh_token),
    cronofy_token_expires_at = $4
WHERE id = $1
`
	res, err := p.db.ExecContext(ctx, q, merchantID, access, refresh, cred.ExpiresAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

/* ===================== CUSTOMERS ===================== */

func (p *Postgres) FindCustomerByPhone(ctx context.Context, merchantID, phone string) (Customer, bool, error) {
	const q = `
SELECT id, merchant_id, phone, name, created_at
FROM customers
WHERE merchant_id = $1 AND phone = $2
`
	var (
		c    Customer
		name sql.NullString
	)
	err := p.db.QueryRowContext(ctx, q, merchantID, phone).Scan(&c.ID, &c.MerchantID, &c.Phone, &name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, false, nil
		}
		return Customer{}, false, err
	}
	c.Name = name.String
	return c, true, nil
}

func (p *Postgres) CreateCustomer(ctx context.Context, c Customer) error {
	const q = `
INSERT INTO customers (id, merchant_id, phone, name, created_at)
VALUES ($1,$2,$3,NULLIF($4,''),$5)
`
	_, err := p.db.ExecContext(ctx, q, c.ID, c.MerchantID, c.Phone, c.Name, c.CreatedAt)
	return err
}

/* ===================== APPOINTMENTS ===================== */

func (p *Postgres) InsertAppointment(ctx context.Context, a Appointment) error {
	const q = `
INSERT INTO appointments (id, merchant_id, customer_id, service_name, start_time, end_time, status, calendar_event_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9)
`
	_, err := p.db.ExecContext(ctx, q,
		a.ID,
		a.MerchantID,
		a.CustomerID,
		a.ServiceName,
		a.StartTime,
		a.EndTime,
		a.Status,
		a.CalendarEventID,
		a.CreatedAt,
	)
	return err
}

// BookAppointment upserts the customer and inserts the appointment in
// one transaction, so a booking can never leave a customer row without
// its appointment or vice versa. The ON CONFLICT arm rides on the
// customers UNIQUE (merchant_id, phone) constraint; an existing row
// keeps its id and name.
func (p *Postgres) BookAppointment(ctx context.Context, c Customer, a Appointment) (Customer, Appointment, error) {
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const qc = `
INSERT INTO customers (id, merchant_id, phone, name, created_at)
VALUES ($1,$2,$3,NULLIF($4,''),$5)
ON CONFLICT (merchant_id, phone)
DO UPDATE SET name = COALESCE(customers.name, NULLIF(EXCLUDED.name,''))
RETURNING id, COALESCE(name,''), created_at
`
		if err := tx.QueryRowContext(ctx, qc, c.ID, c.MerchantID, c.Phone, c.Name, c.CreatedAt).
			Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return fmt.Errorf("ensure customer: %w", err)
		}

		a.CustomerID = c.ID
		const qa = `
INSERT INTO appointments (id, merchant_id, customer_id, service_name, start_time, end_time, status, calendar_event_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9)
`
		if _, err := tx.ExecContext(ctx, qa,
			a.ID,
			a.MerchantID,
			a.CustomerID,
			a.ServiceName,
			a.StartTime,
			a.EndTime,
			a.Status,
			a.CalendarEventID,
			a.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return Customer{}, Appointment{}, err
	}
	return c, a, nil
}

func (p *Postgres) FirstConfirmed(ctx context.Context, merchantID, customerID string, day *time.Time) (Appointment, bool, error) {
	q := `
SELECT id, merchant_id, customer_id, service_name, start_time, end_time, status, calendar_event_id, created_at
FROM appointments
WHERE merchant_id = $1 AND customer_id = $2 AND status = 'confirmed'
`
	args := []any{merchantID, customerID}
	if day != nil {
		q += ` AND start_time >= $3 AND start_time < $4`
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		args = append(args, dayStart, dayStart.AddDate(0, 0, 1))
	}
	q += `
ORDER BY start_time ASC
LIMIT 1
`
	var (
		a       Appointment
		eventID sql.NullString
	)
	err := p.db.QueryRowContext(ctx, q, args...).Scan(
		&a.ID,
		&a.MerchantID,
		&a.CustomerID,
		&a.ServiceName,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&eventID,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Appointment{}, false, nil
		}
		return Appointment{}, false, err
	}
	a.CalendarEventID = eventID.String
	return a, true, nil
}

func (p *Postgres) SetAppointmentStatus(ctx context.Context, merchantID, appointmentID string, status AppointmentStatus) error {
	const q = `UPDATE appointments SET status = $3 WHERE merchant_id = $1 AND id = $2`
	res, err := p.db.ExecContext(ctx, q, merchantID, appointmentID, status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetCalendarEventID(ctx context.Context, merchantID, appointmentID, eventID string) error {
	const q = `UPDATE appointments SET calendar_event_id = $3 WHERE merchant_id = $1 AND id = $2`
	res, err := p.db.ExecContext(ctx, q, merchantID, appointmentID, eventID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListAppointments(ctx context.Context, merchantID string, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, merchant_id, customer_id, service_name, start_time, end_time, status, calendar_event_id, created_at
FROM appointments
WHERE merchant_id = $1
ORDER BY start_time DESC
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, merchantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var (
			a       Appointment
			eventID sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.MerchantID, &a.CustomerID, &a.ServiceName, &a.StartTime, &a.EndTime, &a.Status, &eventID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CalendarEventID = eventID.String
		out = append(out, a)
	}
	return out, rows.Err()
}

/* ===================== MESSAGES ===================== */

func (p *Postgres) InsertMessage(ctx context.Context, m Message) error {
	const q = `
INSERT INTO messages (id, merchant_id, caller_name, caller_phone, content, urgency, read, created_at)
VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8)
`
	_, err := p.db.ExecContext(ctx, q,
		m.ID,
		m.MerchantID,
		m.CallerName,
		m.CallerPhone,
		m.Content,
		m.Urgency,
		m.Read,
		m.CreatedAt,
	)
	return err
}

func (p *Postgres) ListMessages(ctx context.Context, merchantID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, merchant_id, caller_name, caller_phone, content, urgency, read, created_at
FROM messages
WHERE merchant_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, merchantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m    Message
			name sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.MerchantID, &name, &m.CallerPhone, &m.Content, &m.Urgency, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CallerName = name.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkMessageRead(ctx context.Context, merchantID, messageID string) error {
	const q = `UPDATE messages SET read = TRUE WHERE merchant_id = $1 AND id = $2`
	res, err := p.db.ExecContext(ctx, q, merchantID, messageID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
