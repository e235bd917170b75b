package voiceagent

import (
	"fmt"
	"strings"
	"time"

	"voicedesk/internal/store"
)

// BuildInstructions assembles the deterministic system prompt for one
// session from the merchant's config snapshot. It is built once at
// connection open and never regenerated mid-call.
func BuildInstructions(cfg store.MerchantConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the AI receptionist for %s", cfg.BusinessName)
	if cfg.BusinessType != "" {
		fmt.Fprintf(&b, ", a %s", cfg.BusinessType)
	}
	b.WriteString(".\n\nYou can:\n")
	b.WriteString("- Book appointments\n")
	b.WriteString("- Cancel or reschedule appointments\n")
	b.WriteString("- Take messages for the business owner\n")
	b.WriteString("- Answer questions about the business\n")
	b.WriteString("- Transfer urgent calls by taking a high-urgency message\n")

	b.WriteString("\nBusiness details:\n")
	fmt.Fprintf(&b, "- Name: %s\n", cfg.BusinessName)
	if cfg.Address != "" {
		fmt.Fprintf(&b, "- Address: %s\n", cfg.Address)
	}
	if cfg.PhoneNumber != "" {
		fmt.Fprintf(&b, "- Phone: %s\n", cfg.PhoneNumber)
	}

	b.WriteString("\nServices:\n")
	if len(cfg.Services) == 0 {
		b.WriteString("- No services listed\n")
	}
	for _, s := range cfg.Services {
		b.WriteString("- " + s.Name)
		if s.DurationMinutes > 0 {
			fmt.Fprintf(&b, " (%d min)", s.DurationMinutes)
		}
		if s.Price != "" {
			fmt.Fprintf(&b, ", %s", s.Price)
		}
		if s.Description != "" {
			fmt.Fprintf(&b, " - %s", s.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nOpening hours:\n")
	if len(cfg.OpeningHours) == 0 {
		b.WriteString("- Not specified\n")
	} else {
		// Stable day order; maps have none.
		for _, day := range weekdayOrder {
			if hours, ok := cfg.OpeningHours[day]; ok {
				fmt.Fprintf(&b, "- %s: %s\n", day, hours)
			}
		}
	}

	if len(cfg.FAQs) > 0 {
		b.WriteString("\nFrequently asked questions (answer verbatim when a caller's question matches):\n")
		for _, f := range cfg.FAQs {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", f.Question, f.Answer)
		}
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Speak British English.\n")
	b.WriteString("- Always confirm the service, date and time with the caller before creating a booking.\n")
	b.WriteString("- If you cannot help with a request, offer to take a message.\n")
	b.WriteString("- When a caller's question matches an FAQ above, prefer that answer.\n")
	b.WriteString("- Keep responses short and natural; this is a phone call.\n")

	return b.String()
}

// instructionsFor extends the merchant prompt with the caller's number
// when telephony was able to recover it.
func instructionsFor(cfg store.MerchantConfig, caller string) string {
	s := BuildInstructions(cfg)
	if caller = strings.TrimSpace(caller); caller != "" {
		s += fmt.Sprintf("\nThe caller is calling from %s. Use that number for tools that need a phone number unless the caller gives a different one.\n", caller)
	}
	return s
}

var weekdayOrder = []string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// Greeting returns the line the agent speaks as soon as the session is
// ready; the caller never has to speak first. Merchants may configure
// their own greeting, otherwise a time-of-day default is generated
// using the server's local clock.
func Greeting(cfg store.MerchantConfig, now time.Time) string {
	if g := strings.TrimSpace(cfg.Greeting); g != "" {
		return g
	}
	return fmt.Sprintf("Good %s, thank you for calling %s. How can I help you today?",
		timeOfDay(now), cfg.BusinessName)
}

func timeOfDay(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "morning"
	case h < 17:
		return "afternoon"
	default:
		return "evening"
	}
}
