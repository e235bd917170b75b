package calllog

import (
	"context"
	"testing"
)

func TestService_AppendRequiresMerchantAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeCallBridged}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{MerchantID: "m1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogBridged(context.Background(), "m1", "CA1", "MZ1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogTool(context.Background(), "m1", "CA1", "create_booking"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Type != EventTypeCallBridged || evs[0].StreamSid != "MZ1" {
		t.Fatalf("unexpected first event: %+v", evs[0])
	}
	if evs[1].ToolName != "create_booking" {
		t.Fatalf("expected tool name captured: %+v", evs[1])
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp")
	}
}

func TestService_ListNewestFirstScopedToMerchant(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.LogBridged(ctx, "m1", "CA1", "MZ1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.LogBridged(ctx, "m2", "CA2", "MZ2"); err != nil {
		t.Fatal(err)
	}
	if err := svc.LogEnded(ctx, "m1", "CA1"); err != nil {
		t.Fatal(err)
	}

	evs, err := svc.List(ctx, "m1", 10)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events for m1, got %d", len(evs))
	}
	if evs[0].Type != EventTypeCallEnded {
		t.Fatalf("expected newest first, got %+v", evs[0])
	}
}
