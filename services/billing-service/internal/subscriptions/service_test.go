package subscriptions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/garageflow/garageflow/libs/events"
	"github.com/garageflow/garageflow/libs/outbox"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/garageflow/garageflow/services/billing-service/internal/storage"
)

type fakeTx struct {
	subs   map[string]storage.Subscription
	events []outbox.Event
}

func newFakeTx() *fakeTx { return &fakeTx{subs: map[string]storage.Subscription{}} }

func (f *fakeTx) GetSubscriptionForUpdate(_ context.Context, tenantID string) (storage.Subscription, bool, error) {
	s, ok := f.subs[tenantID]
	return s, ok, nil
}

func (f *fakeTx) UpsertSubscription(_ context.Context, s storage.Subscription) error {
	f.subs[s.TenantID] = s
	return nil
}

func (f *fakeTx) InsertProviderEvent(context.Context, storage.ProviderEvent) error { return nil }
func (f *fakeTx) LockStorage(context.Context, string) (int64, error)              { return 0, nil }
func (f *fakeTx) AddStorage(context.Context, string, int64) (int64, error)        { return 0, nil }
func (f *fakeTx) InsertAPIKey(context.Context, storage.APIKey) error              { return nil }

func (f *fakeTx) InsertEvent(_ context.Context, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func TestApplyActivatedEmitsOnce(t *testing.T) {
	tx := newFakeTx()
	svc := New()
	c := Change{TenantID: "t-1", Plan: "Pro", Provider: "stripe", OccurredAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}

	emitted, err := svc.ApplyActivated(context.Background(), tx, c)
	if err != nil || !emitted {
		t.Fatalf("expected first activation to emit, got %v %v", emitted, err)
	}
	c.StripeSubscriptionID = "sub_123"
	emitted, err = svc.ApplyActivated(context.Background(), tx, c)
	if err != nil || emitted {
		t.Fatalf("expected repeat activation to be silent, got %v %v", emitted, err)
	}
	if len(tx.events) != 1 || tx.events[0].EventType != events.SubscriptionActivated {
		t.Fatalf("unexpected events %+v", tx.events)
	}
	var p events.SubscriptionPayload
	if err := json.Unmarshal(tx.events[0].Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Plan != "pro" || p.Status != "active" || p.TenantID != "t-1" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if tx.subs["t-1"].Effective() != plans.Pro {
		t.Fatalf("expected stored plan pro, got %s", tx.subs["t-1"].Plan)
	}
}

func TestApplyCanceledDropsToFree(t *testing.T) {
	tx := newFakeTx()
	svc := New()
	ctx := context.Background()
	if _, err := svc.ApplyActivated(ctx, tx, Change{TenantID: "t-1", Plan: plans.Enterprise}); err != nil {
		t.Fatal(err)
	}
	emitted, err := svc.ApplyCanceled(ctx, tx, Change{TenantID: "t-1", Plan: plans.Enterprise})
	if err != nil || !emitted {
		t.Fatalf("expected cancel to emit, got %v %v", emitted, err)
	}
	s := tx.subs["t-1"]
	if s.Plan != plans.Free || s.Status != "canceled" || s.Effective() != plans.Free {
		t.Fatalf("unexpected subscription %+v", s)
	}
	if tx.events[1].EventType != events.SubscriptionCanceled {
		t.Fatalf("expected canceled event, got %s", tx.events[1].EventType)
	}
}

func TestApplyActivatedUnknownPlanIsFree(t *testing.T) {
	tx := newFakeTx()
	if _, err := New().ApplyActivated(context.Background(), tx, Change{TenantID: "t-2", Plan: "gold"}); err != nil {
		t.Fatal(err)
	}
	if tx.subs["t-2"].Plan != plans.Free {
		t.Fatalf("expected free, got %s", tx.subs["t-2"].Plan)
	}
}
