package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voicedesk/internal/store"
)

// Adapter hides the OAuth token lifecycle and turns free/busy data into
// bookable slots. Nothing here is allowed to fail a live call: mirror
// operations return errors for the caller to log and drop, and
// availability always degrades to canned slots.

const (
	// Slots are computed at a fixed half-hour granularity in the
	// merchant's (assumed) timezone.
	slotGranularity = 30 * time.Minute
	timezone        = "Europe/London"

	// refreshWindow is how close to expiry we proactively refresh.
	refreshWindow = 5 * time.Minute
)

// ErrNoCredential signals the merchant never connected a calendar.
// Callers fall back; this is not a failure.
var ErrNoCredential = errors.New("calendar: no credential configured")

// cannedSlotHours is the fixed fallback offered whenever real
// availability cannot be determined. A receptionist that answers "I
// can't check the diary" ends the conversation; plausible times keep it
// going.
var cannedSlotHours = []int{9, 10, 11, 14, 15, 16}

type Adapter struct {
	api       API
	merchants store.MerchantRepository
	log       *slog.Logger
	clock     func() time.Time
	loc       *time.Location
}

func NewAdapter(api API, merchants store.MerchantRepository, log *slog.Logger) *Adapter {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Adapter{
		api:       api,
		merchants: merchants,
		log:       log,
		clock:     time.Now,
		loc:       loc,
	}
}

// AvailableSlots computes bookable half-hour slots for one date
// (YYYY-MM-DD). It never returns an error: every degraded state falls
// back to the canned list per the ladder documented on slotsOrFallback.
func (a *Adapter) AvailableSlots(ctx context.Context, merchantID, date string, openingHours map[string]string) []time.Time {
	day, err := time.ParseInLocation("2006-01-02", date, a.loc)
	if err != nil {
		// An unparseable date from the voice agent still deserves an
		// answer; anchor the canned list to today.
		now := a.clock().In(a.loc)
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	}

	cred, ok := a.credential(ctx, merchantID)
	if !ok {
		// Rung 1: no calendar integration at all.
		return a.cannedSlots(day)
	}

	busy, err := a.api.GetFreeBusy(ctx, cred.AccessToken, day, day.AddDate(0, 0, 1), timezone)
	if err != nil {
		// Rung 3: any API failure (auth, network, rate limit).
		a.log.Warn("free/busy lookup failed, using canned slots", "merchant_id", merchantID, "err", err)
		return a.cannedSlots(day)
	}

	slots := computeSlots(day, openingHours, busy)
	if len(slots) == 0 && len(openingHours) == 0 {
		// Rung 2: empty result with no opening-hours data is ambiguous
		// between "fully booked" and "hours not configured"; resolve in
		// favour of offering times.
		return a.cannedSlots(day)
	}
	return slots
}

// CreateMirrorEvent upserts the appointment's mirror in the merchant's
// calendar. Returns ErrNoCredential when no calendar is connected.
func (a *Adapter) CreateMirrorEvent(ctx context.Context, merchantID string, ev Event) error {
	cred, ok := a.credential(ctx, merchantID)
	if !ok {
		return ErrNoCredential
	}
	if ev.TZID == "" {
		ev.TZID = timezone
	}
	return a.api.CreateEvent(ctx, cred.AccessToken, cred.CalendarID, ev)
}

// DeleteMirrorEvent removes a previously mirrored event by its
// deterministic id.
func (a *Adapter) DeleteMirrorEvent(ctx context.Context, merchantID, eventID string) error {
	cred, ok := a.credential(ctx, merchantID)
	if !ok {
		return ErrNoCredential
	}
	return a.api.DeleteEvent(ctx, cred.AccessToken, cred.CalendarID, eventID)
}

// credential loads the merchant's tokens, refreshing proactively when
// expiry is near. A failed refresh is logged and the stale token is
// attempted anyway; the real calendar call surfaces the failure.
func (a *Adapter) credential(ctx context.Context, merchantID string) (store.CalendarCredential, bool) {
	cred, ok, err := a.merchants.GetCalendarCredential(ctx, merchantID)
	if err != nil {
		a.log.Warn("calendar credential load failed", "merchant_id", merchantID, "err", err)
		return store.CalendarCredential{}, false
	}
	if !ok {
		return store.CalendarCredential{}, false
	}

	if cred.RefreshToken == "" || a.clock().Add(refreshWindow).Before(cred.ExpiresAt) {
		return cred, true
	}

	tok, err := a.api.RefreshAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		a.log.Warn("calendar token refresh failed, trying stale token", "merchant_id", merchantID, "err", err)
		return cred, true
	}

	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	cred.ExpiresAt = a.clock().Add(time.Duration(tok.ExpiresIn) * time.Second)

	// Persist off the caller's response path. Last-write-wins across
	// concurrent calls is accepted.
	go func(c store.CalendarCredential) {
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.merchants.SaveCalendarCredential(pctx, merchantID, c); err != nil {
			a.log.Warn("calendar credential persist failed", "merchant_id", merchantID, "err", err)
		}
	}(cred)

	return cred, true
}

func (a *Adapter) cannedSlots(day time.Time) []time.Time {
	out := make([]time.Time, 0, len(cannedSlotHours))
	for _, h := range cannedSlotHours {
		out = append(out, time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, a.loc))
	}
	return out
}

// computeSlots generates candidate starts inside opening hours and drops
// any slot overlapping a busy block.
func computeSlots(day time.Time, openingHours map[string]string, busy []FreeBusyBlock) []time.Time {
	opensAt, closesAt, ok := hoursForDay(day, openingHours)
	if !ok {
		return nil
	}

	var out []time.Time
	for start := opensAt; !start.Add(slotGranularity).After(closesAt); start = start.Add(slotGranularity) {
		end := start.Add(slotGranularity)
		if overlapsAny(start, end, busy) {
			continue
		}
		out = append(out, start)
	}
	return out
}

func overlapsAny(start, end time.Time, busy []FreeBusyBlock) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// hoursForDay resolves the merchant's opening window for the date.
// Values look like "09:00-17:00"; "closed" (any case) or anything
// unparseable yields no window.
func hoursForDay(day time.Time, openingHours map[string]string) (time.Time, time.Time, bool) {
	raw, ok := openingHours[day.Weekday().String()]
	if !ok {
		// Tolerate lowercase day keys from the extraction pipeline.
		raw, ok = openingHours[strings.ToLower(day.Weekday().String())]
	}
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "closed") {
		return time.Time{}, time.Time{}, false
	}

	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, false
	}
	opensAt, err1 := clockOnDay(day, strings.TrimSpace(parts[0]))
	closesAt, err2 := clockOnDay(day, strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || !opensAt.Before(closesAt) {
		return time.Time{}, time.Time{}, false
	}
	return opensAt, closesAt, true
}

func clockOnDay(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad clock value %q: %w", hhmm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
