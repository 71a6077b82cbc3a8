package event_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/lumenchat/quota/event"
	"github.com/lumenchat/quota/ratelimit"
	"github.com/lumenchat/quota/subscription"
)

var t0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func TestInitializeCreditsIdempotent(t *testing.T) {
	s := event.NewState(t0)

	once := event.Reduce(s, event.InitializeCredits{InitialCredits: 320})
	if once.Credits != 320 || !once.HasInitialCredits {
		t.Fatalf("after first init: credits=%d initialized=%v", once.Credits, once.HasInitialCredits)
	}

	twice := once
	for i := 0; i < 5; i++ {
		twice = event.Reduce(twice, event.InitializeCredits{InitialCredits: 320})
	}
	if twice.Credits != once.Credits {
		t.Errorf("repeated init changed balance: %d != %d", twice.Credits, once.Credits)
	}
}

func TestSetShownToast(t *testing.T) {
	s := event.Reduce(event.NewState(t0), event.SetShownToast{})
	if !s.HasShownInitialCreditsToast {
		t.Error("toast flag not set")
	}
}

func TestUpdateAndClearRateLimit(t *testing.T) {
	s := event.NewState(t0)
	bucket := ratelimit.Bucket{Count: 3, LastRefillAt: t0}

	s = event.Reduce(s, event.UpdateRateLimit{ActionType: "conversation", Bucket: bucket})
	got, ok := s.Bucket("conversation")
	if !ok || got != bucket {
		t.Fatalf("bucket not stored: %+v ok=%v", got, ok)
	}

	s = event.Reduce(s, event.ClearRateLimit{ActionType: "conversation"})
	if _, ok := s.Bucket("conversation"); ok {
		t.Error("bucket survived ClearRateLimit")
	}
}

func TestUpdateSubscriptionPerTier(t *testing.T) {
	s := event.NewState(t0)
	ent := subscription.Entitlement{
		IsActive:  true,
		PlanType:  subscription.PlanMonth,
		Status:    subscription.StatusCompleted,
		StartDate: t0,
		EndDate:   subscription.EndDate(subscription.PlanMonth, t0),
	}

	s = event.Reduce(s, event.UpdateSubscription{Tier: subscription.TierStandard, Entitlement: ent})
	if !s.Standard.IsActive || s.Ultimate.IsActive {
		t.Fatal("UpdateSubscription touched the wrong tier")
	}

	s = event.Reduce(s, event.CancelSubscription{Tier: subscription.TierStandard})
	if s.Standard.IsActive || s.Standard.PlanType != subscription.PlanNone || s.Standard.Status != subscription.StatusNone {
		t.Errorf("Cancel did not reset entitlement: %+v", s.Standard)
	}
}

func TestCancelLeavesOtherTierUntouched(t *testing.T) {
	s := event.NewState(t0)
	ent := subscription.Entitlement{IsActive: true, PlanType: subscription.PlanWeek, StartDate: t0, EndDate: t0.Add(7 * 24 * time.Hour)}

	s = event.Reduce(s, event.UpdateSubscription{Tier: subscription.TierStandard, Entitlement: ent})
	s = event.Reduce(s, event.UpdateSubscription{Tier: subscription.TierUltimate, Entitlement: ent})
	s = event.Reduce(s, event.CancelSubscription{Tier: subscription.TierUltimate})

	if !s.Standard.IsActive {
		t.Error("cancelling Ultimate cleared Standard")
	}
	if s.Ultimate.IsActive {
		t.Error("Ultimate not cancelled")
	}
}

func TestUpdateCredits(t *testing.T) {
	s := event.Reduce(event.NewState(t0), event.UpdateCredits{NewCredits: 42})
	if s.Credits != 42 {
		t.Errorf("credits = %d, want 42", s.Credits)
	}
}

func TestClearAllPreservesInviteFlag(t *testing.T) {
	s := event.NewState(t0)
	s = event.Reduce(s, event.InitializeCredits{InitialCredits: 100})
	s = event.Reduce(s, event.UpdateRateLimit{ActionType: "conversation", Bucket: ratelimit.Bucket{Count: 1, LastRefillAt: t0}})
	s = event.Reduce(s, event.UpdateInviteEligibility{CanReceive: false})

	s = event.Reduce(s, event.ClearAll{})

	if s.Credits != 0 || s.HasInitialCredits || len(s.RateLimits) != 0 {
		t.Errorf("ClearAll did not reset state: %+v", s)
	}
	if s.CanReceiveInviteReward {
		t.Error("ClearAll reset the invite-reward flag instead of preserving it")
	}
	if !s.CreatedAt.Equal(t0) {
		t.Error("ClearAll changed CreatedAt")
	}
}

func TestMigrateLegacyState(t *testing.T) {
	legacy := event.NewState(t0.Add(-time.Hour))
	legacy.Credits = 77
	legacy.HasInitialCredits = true

	s := event.Reduce(event.NewState(t0), event.MigrateLegacyState{State: legacy})
	if s.Credits != 77 || !s.HasInitialCredits || !s.CreatedAt.Equal(legacy.CreatedAt) {
		t.Errorf("migration did not replace state: %+v", s)
	}
}

func TestUnknownEventNoOp(t *testing.T) {
	s := event.Reduce(event.NewState(t0), event.Unknown{RawKind: "future_thing"})
	want := event.NewState(t0)
	if s.Credits != want.Credits || s.HasInitialCredits != want.HasInitialCredits {
		t.Error("unknown event mutated state")
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := event.NewState(t0)
	s = event.Reduce(s, event.UpdateRateLimit{ActionType: "conversation", Bucket: ratelimit.Bucket{Count: 5, LastRefillAt: t0}})

	before := s
	_ = event.Reduce(s, event.ClearRateLimit{ActionType: "conversation"})

	if _, ok := before.Bucket("conversation"); !ok {
		t.Error("Reduce mutated its input state")
	}
}

func TestMalformedEventsPanic(t *testing.T) {
	tests := []struct {
		name string
		ev   event.Event
	}{
		{"negative initial credits", event.InitializeCredits{InitialCredits: -1}},
		{"negative balance", event.UpdateCredits{NewCredits: -5}},
		{"empty action type", event.UpdateRateLimit{ActionType: ""}},
		{"negative bucket count", event.UpdateRateLimit{ActionType: "conversation", Bucket: ratelimit.Bucket{Count: -1}}},
		{"empty clear action type", event.ClearRateLimit{}},
		{"invalid update tier", event.UpdateSubscription{Tier: "gold"}},
		{"invalid cancel tier", event.CancelSubscription{Tier: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic for malformed event")
				}
			}()
			event.Reduce(event.NewState(t0), tt.ev)
		})
	}
}

func TestFoldReplayEquivalence(t *testing.T) {
	evs := []event.Event{
		event.InitializeCredits{InitialCredits: 320},
		event.UpdateRateLimit{ActionType: "conversation", Bucket: ratelimit.Bucket{Count: 10, LastRefillAt: t0}},
		event.UpdateSubscription{Tier: subscription.TierStandard, Entitlement: subscription.Entitlement{
			IsActive: true, PlanType: subscription.PlanMonth, StartDate: t0, EndDate: t0.Add(30 * 24 * time.Hour),
		}},
		event.UpdateCredits{NewCredits: 300},
		event.SetShownToast{},
	}

	a := event.Fold(event.NewState(t0), evs)
	b := event.Fold(event.NewState(t0), evs)

	if !reflect.DeepEqual(a, b) {
		t.Errorf("replay mismatch:\n%+v\n%+v", a, b)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	events := []event.Event{
		event.InitializeCredits{InitialCredits: 320},
		event.SetShownToast{},
		event.UpdateRateLimit{ActionType: "conversation", Bucket: ratelimit.Bucket{Count: 4, LastRefillAt: t0}},
		event.ClearRateLimit{ActionType: "conversation"},
		event.UpdateSubscription{Tier: subscription.TierUltimate, Entitlement: subscription.Entitlement{
			IsActive: true, PlanType: subscription.PlanWeek, Status: subscription.StatusCompleted,
			StartDate: t0, EndDate: t0.Add(7 * 24 * time.Hour), SubscriptionIDs: []string{"sub-1"},
		}},
		event.CancelSubscription{Tier: subscription.TierStandard},
		event.UpdateCredits{NewCredits: 10},
		event.UpdateInviteEligibility{CanReceive: false},
		event.ClearAll{},
	}

	for _, ev := range events {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			env, err := event.Encode("user-1", 7, ev, t0)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if env.EventKind != ev.Kind() || env.Version != 7 || env.UserKey != "user-1" {
				t.Fatalf("envelope fields wrong: %+v", env)
			}
			if env.ID.IsNil() {
				t.Fatal("envelope has nil event ID")
			}

			decoded, err := event.Decode(env)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Kind() != ev.Kind() {
				t.Errorf("decoded kind %s, want %s", decoded.Kind(), ev.Kind())
			}
		})
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	env := event.Envelope{EventKind: "from_the_future", Payload: []byte(`{"x":1}`)}
	ev, err := event.Decode(env)
	if err != nil {
		t.Fatalf("Decode of unknown kind failed: %v", err)
	}
	if _, ok := ev.(event.Unknown); !ok {
		t.Errorf("expected Unknown, got %T", ev)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	env := event.Envelope{EventKind: event.KindUpdateCredits, Payload: []byte(`{broken`)}
	if _, err := event.Decode(env); err == nil {
		t.Error("expected error for malformed payload")
	}
}
