package voiceagent

import (
	"strings"
	"testing"
	"time"

	"voicedesk/internal/store"
)

func TestBuildInstructionsSentinels(t *testing.T) {
	got := BuildInstructions(store.MerchantConfig{BusinessName: "Shear Genius"})

	if !strings.Contains(got, "Shear Genius") {
		t.Fatalf("instructions missing business name:\n%s", got)
	}
	if !strings.Contains(got, "- No services listed") {
		t.Errorf("expected services sentinel")
	}
	if !strings.Contains(got, "- Not specified") {
		t.Errorf("expected opening hours sentinel")
	}
	if strings.Contains(got, "Frequently asked questions") {
		t.Errorf("FAQ section should be absent when there are no FAQs")
	}
}

func TestBuildInstructionsSections(t *testing.T) {
	cfg := store.MerchantConfig{
		BusinessName: "Shear Genius",
		BusinessType: "barbershop",
		Services: []store.Service{
			{Name: "Haircut", DurationMinutes: 30, Price: "£25"},
			{Name: "Beard trim"},
		},
		OpeningHours: map[string]string{"Monday": "09:00-17:00", "Sunday": "closed"},
		FAQs: []store.FAQ{
			{Question: "Do you take walk-ins?", Answer: "Yes, before noon."},
		},
	}
	got := BuildInstructions(cfg)

	for _, want := range []string{
		"Haircut (30 min), £25",
		"Beard trim",
		"Monday: 09:00-17:00",
		"Sunday: closed",
		"Do you take walk-ins?",
		"Yes, before noon.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
	// Weekday order is stable regardless of map iteration.
	if strings.Index(got, "Monday") > strings.Index(got, "Sunday") {
		t.Errorf("opening hours not in weekday order")
	}
}

func TestGreetingTimeOfDay(t *testing.T) {
	cfg := store.MerchantConfig{BusinessName: "Shear Genius"}
	cases := []struct {
		hour int
		want string
	}{
		{8, "Good morning"},
		{11, "Good morning"},
		{12, "Good afternoon"},
		{16, "Good afternoon"},
		{17, "Good evening"},
		{23, "Good evening"},
	}
	for _, tc := range cases {
		now := time.Date(2024, 6, 10, tc.hour, 0, 0, 0, time.UTC)
		got := Greeting(cfg, now)
		if !strings.HasPrefix(got, tc.want) {
			t.Errorf("hour %d: got %q, want prefix %q", tc.hour, got, tc.want)
		}
		if !strings.Contains(got, "Shear Genius") {
			t.Errorf("hour %d: greeting missing business name: %q", tc.hour, got)
		}
	}
}

func TestGreetingCustomOverride(t *testing.T) {
	cfg := store.MerchantConfig{
		BusinessName: "Shear Genius",
		Greeting:     "Alright, Shear Genius here, what do you need?",
	}
	got := Greeting(cfg, time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC))
	if got != cfg.Greeting {
		t.Fatalf("custom greeting not used verbatim: got %q", got)
	}
}

func TestInstructionsForCallerNumber(t *testing.T) {
	cfg := store.MerchantConfig{BusinessName: "Shear Genius"}

	with := instructionsFor(cfg, "+447700900123")
	if !strings.Contains(with, "calling from +447700900123") {
		t.Fatalf("caller number missing from instructions: %q", with)
	}

	without := instructionsFor(cfg, "  ")
	if without != BuildInstructions(cfg) {
		t.Fatalf("blank caller must not change the instructions")
	}
}
