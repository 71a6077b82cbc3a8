package quota_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lumenchat/quota"
	"github.com/lumenchat/quota/event"
	"github.com/lumenchat/quota/ratelimit"
	"github.com/lumenchat/quota/store/memory"
	"github.com/lumenchat/quota/subscription"
)

const testOperator = "op_admin"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() quota.Config {
	cfg := quota.DefaultConfig()
	cfg.Operators = []string{testOperator}
	cfg.MailboxSize = 256
	return cfg
}

func newTestEngine(t *testing.T, s *memory.Store, clk *fakeClock, cfg quota.Config) *quota.Engine {
	t.Helper()

	opts := []quota.Option{quota.WithConfig(cfg)}
	if clk != nil {
		opts = append(opts, quota.WithClock(clk.Now))
	}
	e := quota.New(s, opts...)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func TestInitializeCreditsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.New(), nil, testConfig())

	for i := 0; i < 3; i++ {
		if err := e.InitializeCredits(ctx, "user_a"); err != nil {
			t.Fatalf("initialize %d: %v", i, err)
		}
	}

	info, err := e.GetCredits(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsInitialized || info.Credits != 320 {
		t.Fatalf("expected initialized balance 320, got %+v", info)
	}
}

func TestInitialCreditsToastFlow(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.New(), nil, testConfig())

	info, err := e.GetCredits(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	if info.IsInitialized || info.Credits != 0 || info.ShouldShowToast {
		t.Fatalf("fresh user should be uninitialized, got %+v", info)
	}

	if err := e.InitializeCredits(ctx, "user_a"); err != nil {
		t.Fatal(err)
	}
	info, _ = e.GetCredits(ctx, "user_a")
	if !info.IsInitialized || info.Credits != 320 || !info.ShouldShowToast {
		t.Fatalf("expected {true, 320, true}, got %+v", info)
	}

	// Reading does not clear the flag.
	info, _ = e.GetCredits(ctx, "user_a")
	if !info.ShouldShowToast {
		t.Fatal("toast flag cleared by a read")
	}

	if err := e.MarkToastShown(ctx, "user_a"); err != nil {
		t.Fatal(err)
	}
	info, _ = e.GetCredits(ctx, "user_a")
	if info.ShouldShowToast {
		t.Fatal("toast flag still set after MarkToastShown")
	}
}

func TestExecuteDeductsOnce(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.New(), nil, testConfig())

	d, err := e.Execute(ctx, "user_a", quota.ActionConversation)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatalf("expected allowed, got %+v", d)
	}

	st, err := e.State(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	if st.Credits != 310 {
		t.Fatalf("expected 310 credits after one action, got %d", st.Credits)
	}
	b, ok := st.Bucket(quota.ActionConversation)
	if !ok || b.Count != 9 {
		t.Fatalf("expected bucket count 9, got %+v (ok=%v)", b, ok)
	}
}

func TestExecuteInsufficientCreditsNoMutation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.New(), nil, testConfig())

	if err := e.InitializeCredits(ctx, "user_a"); err != nil {
		t.Fatal(err)
	}
	// Drain the balance below one action's cost.
	if _, err := e.AdjustCredits(ctx, "user_a", -315, testOperator); err != nil {
		t.Fatal(err)
	}

	d, err := e.Execute(ctx, "user_a", quota.ActionConversation)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Reason != quota.ReasonInsufficientCredits {
		t.Fatalf("expected insufficient-credits denial, got %+v", d)
	}

	st, _ := e.State(ctx, "user_a")
	if st.Credits != 5 {
		t.Fatalf("denial mutated credits: %d", st.Credits)
	}
	if b, ok := st.Bucket(quota.ActionConversation); ok && b.Count != 10 {
		t.Fatalf("denial consumed a token: %+v", b)
	}
}

func TestExecuteRateLimited(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.RateLimits = map[string]quota.TierLimits{
		quota.ActionConversation: {
			Free:     ratelimit.Limits{Capacity: 2, Window: time.Hour},
			Standard: ratelimit.Limits{Capacity: 4, Window: time.Hour},
		},
	}
	clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	e := newTestEngine(t, memory.New(), clk, cfg)

	for i := 0; i < 2; i++ {
		d, err := e.Execute(ctx, "user_a", quota.ActionConversation)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("action %d denied: %+v", i, d)
		}
	}

	d, err := e.Execute(ctx, "user_a", quota.ActionConversation)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Reason != quota.ReasonRateLimited {
		t.Fatalf("expected rate-limit denial, got %+v", d)
	}

	st, _ := e.State(ctx, "user_a")
	if st.Credits != 300 {
		t.Fatalf("rate-limit denial touched credits: %d", st.Credits)
	}

	// Half the window restores one token.
	clk.Advance(30 * time.Minute)
	d, err = e.Execute(ctx, "user_a", quota.ActionConversation)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatalf("expected refill to admit, got %+v", d)
	}
}

func TestUltimateBypassesCreditsAndBuckets(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	e := newTestEngine(t, memory.New(), clk, testConfig())

	now := clk.Now()
	ent := subscription.Entitlement{
		IsActive:  true,
		PlanType:  subscription.PlanMonth,
		Status:    subscription.StatusCompleted,
		StartDate: now,
		EndDate:   now.Add(30 * 24 * time.Hour),
	}
	if err := e.UpdateSubscription(ctx, "user_a", quota.TierUltimate, ent); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 25; i++ {
		d, err := e.Execute(ctx, "user_a", quota.ActionConversation)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("ultimate action %d denied: %+v", i, d)
		}
	}

	st, _ := e.State(ctx, "user_a")
	if st.Credits != 0 || st.HasInitialCredits {
		t.Fatalf("ultimate execution touched credits: %+v", st)
	}
	if _, ok := st.Bucket(quota.ActionConversation); ok {
		t.Fatal("ultimate execution created a bucket")
	}
}

func TestResolveUltimatePriority(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	e := newTestEngine(t, memory.New(), clk, testConfig())

	now := clk.Now()
	standard := subscription.Entitlement{
		IsActive: true, PlanType: subscription.PlanMonth, Status: subscription.StatusCompleted,
		StartDate: now, EndDate: now.Add(30 * 24 * time.Hour),
	}
	ultimate := subscription.Entitlement{
		IsActive: true, PlanType: subscription.PlanWeek, Status: subscription.StatusCompleted,
		StartDate: now, EndDate: now.Add(7 * 24 * time.Hour),
	}
	if err := e.UpdateSubscription(ctx, "user_a", quota.TierStandard, standard); err != nil {
		t.Fatal(err)
	}
	if err := e.UpdateSubscription(ctx, "user_a", quota.TierUltimate, ultimate); err != nil {
		t.Fatal(err)
	}

	res, err := e.Resolve(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Subscribed || res.Tier != quota.TierUltimate {
		t.Fatalf("expected Ultimate priority, got %+v", res)
	}

	// Ultimate lapses after a week; Standard takes over.
	clk.Advance(8 * 24 * time.Hour)
	res, err = e.Resolve(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Subscribed || res.Tier != quota.TierStandard {
		t.Fatalf("expected Standard after Ultimate lapse, got %+v", res)
	}

	st, _ := e.State(ctx, "user_a")
	if st.Ultimate.IsActive {
		t.Fatal("lapsed Ultimate still marked active")
	}
}

func TestStandardLapseClearsBuckets(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	e := newTestEngine(t, memory.New(), clk, testConfig())

	now := clk.Now()
	standard := subscription.Entitlement{
		IsActive: true, PlanType: subscription.PlanWeek, Status: subscription.StatusCompleted,
		StartDate: now, EndDate: now.Add(7 * 24 * time.Hour),
	}
	if err := e.UpdateSubscription(ctx, "user_a", quota.TierStandard, standard); err != nil {
		t.Fatal(err)
	}

	// Materialize a subscriber-capacity bucket.
	if _, err := e.Execute(ctx, "user_a", quota.ActionConversation); err != nil {
		t.Fatal(err)
	}
	st, _ := e.State(ctx, "user_a")
	if b, ok := st.Bucket(quota.ActionConversation); !ok || b.Count != 119 {
		t.Fatalf("expected subscriber bucket 119, got %+v (ok=%v)", b, ok)
	}

	clk.Advance(8 * 24 * time.Hour)
	res, err := e.Resolve(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	if res.Subscribed {
		t.Fatalf("expected lapse, got %+v", res)
	}

	st, _ = e.State(ctx, "user_a")
	if _, ok := st.Bucket(quota.ActionConversation); ok {
		t.Fatal("lapse kept the stale subscriber bucket")
	}
}

func TestUpgradeAccumulation(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	e := newTestEngine(t, memory.New(), clk, testConfig())

	now := clk.Now()
	standard := subscription.Entitlement{
		IsActive: true, PlanType: subscription.PlanMonth, Status: subscription.StatusCompleted,
		StartDate: now.Add(-10 * 24 * time.Hour), EndDate: now.Add(20 * 24 * time.Hour),
	}
	if err := e.UpdateSubscription(ctx, "user_a", quota.TierStandard, standard); err != nil {
		t.Fatal(err)
	}

	// The billing caller folds the Standard remainder into the Ultimate
	// base end date before submitting the overwrite.
	got, err := e.GetSubscription(ctx, "user_a", quota.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	base := subscription.EndDate(subscription.PlanWeek, now)
	ultimate := subscription.Entitlement{
		IsActive: true, PlanType: subscription.PlanWeek, Status: subscription.StatusCompleted,
		StartDate: now, EndDate: base.Add(got.Remaining(now)),
	}
	if err := e.UpdateSubscription(ctx, "user_a", quota.TierUltimate, ultimate); err != nil {
		t.Fatal(err)
	}

	res, err := e.Resolve(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != quota.TierUltimate {
		t.Fatalf("expected Ultimate, got %+v", res)
	}
	if d := res.Entitlement.EndDate.Sub(now); d != 27*24*time.Hour {
		t.Fatalf("expected 27d of Ultimate, got %s", d)
	}
}

func TestAdjustCredits(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.New(), nil, testConfig())

	if err := e.InitializeCredits(ctx, "user_a"); err != nil {
		t.Fatal(err)
	}

	t.Run("unauthorized", func(t *testing.T) {
		_, err := e.AdjustCredits(ctx, "user_a", 100, "not-an-admin")
		if !errors.Is(err, quota.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		info, _ := e.GetCredits(ctx, "user_a")
		if info.Credits != 320 {
			t.Fatalf("unauthorized adjustment mutated balance: %d", info.Credits)
		}
	})

	t.Run("applies delta", func(t *testing.T) {
		res, err := e.AdjustCredits(ctx, "user_a", -20, testOperator)
		if err != nil {
			t.Fatal(err)
		}
		if res.PreviousBalance != 320 || res.NewBalance != 300 || res.Applied != -20 {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("clamps at zero", func(t *testing.T) {
		res, err := e.AdjustCredits(ctx, "user_a", -1000, testOperator)
		if err != nil {
			t.Fatal(err)
		}
		if res.NewBalance != 0 || res.Applied != -300 {
			t.Fatalf("expected clamp to zero, got %+v", res)
		}
	})
}

func TestAddCredits(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.New(), nil, testConfig())

	// Grants initialize first, then stack.
	if err := e.AddCredits(ctx, "user_a", 40); err != nil {
		t.Fatal(err)
	}
	info, _ := e.GetCredits(ctx, "user_a")
	if !info.IsInitialized || info.Credits != 360 {
		t.Fatalf("expected 360 after init+grant, got %+v", info)
	}

	// Non-positive grants are ignored.
	if err := e.AddCredits(ctx, "user_a", -5); err != nil {
		t.Fatal(err)
	}
	info, _ = e.GetCredits(ctx, "user_a")
	if info.Credits != 360 {
		t.Fatalf("negative grant applied: %d", info.Credits)
	}
}

func TestPreInitBalanceStacksWithInitialGrant(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.New(), nil, testConfig())

	t.Run("execute", func(t *testing.T) {
		// Operator adjustments may land before the one-time grant; the
		// grant stacks on top of whatever is already there.
		if _, err := e.AdjustCredits(ctx, "user_a", 50, testOperator); err != nil {
			t.Fatal(err)
		}
		info, _ := e.GetCredits(ctx, "user_a")
		if info.IsInitialized || info.Credits != 50 {
			t.Fatalf("expected uninitialized balance 50, got %+v", info)
		}

		dec, err := e.Execute(ctx, "user_a", quota.ActionConversation)
		if err != nil {
			t.Fatal(err)
		}
		if !dec.Allowed {
			t.Fatalf("expected allow, got %+v", dec)
		}
		info, _ = e.GetCredits(ctx, "user_a")
		if !info.IsInitialized || info.Credits != 360 {
			t.Fatalf("expected 50+320-10=360 after first action, got %+v", info)
		}
	})

	t.Run("add credits", func(t *testing.T) {
		if _, err := e.AdjustCredits(ctx, "user_b", 50, testOperator); err != nil {
			t.Fatal(err)
		}
		if err := e.AddCredits(ctx, "user_b", 25); err != nil {
			t.Fatal(err)
		}
		info, _ := e.GetCredits(ctx, "user_b")
		if !info.IsInitialized || info.Credits != 395 {
			t.Fatalf("expected 50+320+25=395 after init+grant, got %+v", info)
		}
	})
}

func TestConcurrentExecutesNeverOverDeduct(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.InitialCredits = 50
	cfg.RateLimits = map[string]quota.TierLimits{
		quota.ActionConversation: {
			Free:     ratelimit.Limits{Capacity: 100, Window: time.Hour},
			Standard: ratelimit.Limits{Capacity: 200, Window: time.Hour},
		},
	}
	e := newTestEngine(t, memory.New(), nil, cfg)

	const callers = 20
	var wg sync.WaitGroup
	allowed := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := e.Execute(ctx, "user_a", quota.ActionConversation)
			if err != nil {
				t.Errorf("execute: %v", err)
				return
			}
			allowed <- d.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	granted := 0
	for ok := range allowed {
		if ok {
			granted++
		}
	}
	if granted != 5 {
		t.Fatalf("50 credits at 10 per action must admit exactly 5, admitted %d", granted)
	}

	info, _ := e.GetCredits(ctx, "user_a")
	if info.Credits != 0 {
		t.Fatalf("expected exhausted balance, got %d", info.Credits)
	}
}

func TestSnapshotAndTailReplay(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	cfg := testConfig()
	cfg.SnapshotInterval = 3

	e1 := newTestEngine(t, s, nil, cfg)
	if err := e1.InitializeCredits(ctx, "user_a"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := e1.Execute(ctx, "user_a", quota.ActionConversation); err != nil {
			t.Fatal(err)
		}
	}
	want, err := e1.State(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.LoadSnapshot(ctx, "user_a"); err != nil {
		t.Fatalf("expected a persisted snapshot: %v", err)
	}

	// A second engine over the same log rebuilds identical state from the
	// snapshot plus the event tail.
	e2 := quota.New(s, quota.WithConfig(cfg))
	got, err := e2.State(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Credits != want.Credits || got.HasInitialCredits != want.HasInitialCredits {
		t.Fatalf("replayed state mismatch: got %+v want %+v", got, want)
	}
	gb, _ := got.Bucket(quota.ActionConversation)
	wb, _ := want.Bucket(quota.ActionConversation)
	if gb != wb {
		t.Fatalf("replayed bucket mismatch: got %+v want %+v", gb, wb)
	}
}

func TestLegacyMigrationRunsOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	legacy := event.NewState(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	legacy.Credits = 42
	legacy.HasInitialCredits = true
	s.SeedLegacyState("user_a", legacy)

	e1 := newTestEngine(t, s, nil, testConfig())
	info, err := e1.GetCredits(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsInitialized || info.Credits != 42 {
		t.Fatalf("legacy state not carried over: %+v", info)
	}
	if v := s.Version("user_a"); v != 1 {
		t.Fatalf("expected exactly one migration event, log at version %d", v)
	}

	// A fresh engine replays the migration event instead of re-migrating.
	e2 := quota.New(s, quota.WithConfig(testConfig()))
	info, err = e2.GetCredits(ctx, "user_a")
	if err != nil {
		t.Fatal(err)
	}
	if info.Credits != 42 {
		t.Fatalf("replayed legacy state mismatch: %+v", info)
	}
	if v := s.Version("user_a"); v != 1 {
		t.Fatalf("second activation re-committed migration, version %d", v)
	}
}

func TestInviteReward(t *testing.T) {
	ctx := context.Background()

	t.Run("one shot", func(t *testing.T) {
		clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		e := newTestEngine(t, memory.New(), clk, testConfig())

		if err := e.RedeemInviteReward(ctx, "user_a"); err != nil {
			t.Fatal(err)
		}
		res, _ := e.Resolve(ctx, "user_a")
		if !res.Subscribed || res.Tier != quota.TierStandard || res.Entitlement.PlanType != subscription.PlanWeek {
			t.Fatalf("expected a week of Standard, got %+v", res)
		}

		// Wait out the granted week, then try again.
		clk.Advance(8 * 24 * time.Hour)
		if err := e.RedeemInviteReward(ctx, "user_a"); !errors.Is(err, quota.ErrRewardAlreadyClaimed) {
			t.Fatalf("expected ErrRewardAlreadyClaimed, got %v", err)
		}
	})

	t.Run("window closes", func(t *testing.T) {
		clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		e := newTestEngine(t, memory.New(), clk, testConfig())

		// Materialize the account inside the window, then let it lapse.
		if _, err := e.GetCredits(ctx, "user_a"); err != nil {
			t.Fatal(err)
		}
		clk.Advance(80 * time.Hour)

		if err := e.RedeemInviteReward(ctx, "user_a"); !errors.Is(err, quota.ErrRewardWindowClosed) {
			t.Fatalf("expected ErrRewardWindowClosed, got %v", err)
		}
		// The lapse clears eligibility permanently.
		if err := e.RedeemInviteReward(ctx, "user_a"); !errors.Is(err, quota.ErrRewardAlreadyClaimed) {
			t.Fatalf("expected ErrRewardAlreadyClaimed after window lapse, got %v", err)
		}
	})

	t.Run("already subscribed", func(t *testing.T) {
		clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		e := newTestEngine(t, memory.New(), clk, testConfig())

		now := clk.Now()
		ent := subscription.Entitlement{
			IsActive: true, PlanType: subscription.PlanMonth, Status: subscription.StatusCompleted,
			StartDate: now, EndDate: now.Add(30 * 24 * time.Hour),
		}
		if err := e.UpdateSubscription(ctx, "user_a", quota.TierStandard, ent); err != nil {
			t.Fatal(err)
		}
		if err := e.RedeemInviteReward(ctx, "user_a"); !errors.Is(err, quota.ErrAlreadySubscribed) {
			t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
		}
	})
}

func TestGrantSubscription(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthorized", func(t *testing.T) {
		e := newTestEngine(t, memory.New(), nil, testConfig())
		_, err := e.GrantSubscription(ctx, "user_a", "not-an-admin", quota.TierStandard, subscription.PlanWeek)
		if !errors.Is(err, quota.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("fresh grant", func(t *testing.T) {
		clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		e := newTestEngine(t, memory.New(), clk, testConfig())

		grantID, err := e.GrantSubscription(ctx, "user_a", testOperator, quota.TierStandard, subscription.PlanWeek)
		if err != nil {
			t.Fatal(err)
		}
		ent, _ := e.GetSubscription(ctx, "user_a", quota.TierStandard)
		if !ent.IsActive || ent.PlanType != subscription.PlanWeek {
			t.Fatalf("unexpected entitlement %+v", ent)
		}
		if want := clk.Now().Add(7 * 24 * time.Hour); !ent.EndDate.Equal(want) {
			t.Fatalf("end date %s, want %s", ent.EndDate, want)
		}
		if len(ent.SubscriptionIDs) != 1 || ent.SubscriptionIDs[0] != grantID.String() {
			t.Fatalf("grant reference missing: %+v", ent.SubscriptionIDs)
		}
	})

	t.Run("extends and upgrades active entitlement", func(t *testing.T) {
		clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		e := newTestEngine(t, memory.New(), clk, testConfig())

		if _, err := e.GrantSubscription(ctx, "user_a", testOperator, quota.TierStandard, subscription.PlanWeek); err != nil {
			t.Fatal(err)
		}
		if _, err := e.GrantSubscription(ctx, "user_a", testOperator, quota.TierStandard, subscription.PlanMonth); err != nil {
			t.Fatal(err)
		}

		ent, _ := e.GetSubscription(ctx, "user_a", quota.TierStandard)
		if ent.PlanType != subscription.PlanMonth {
			t.Fatalf("expected plan upgraded to month, got %s", ent.PlanType)
		}
		if want := clk.Now().Add(37 * 24 * time.Hour); !ent.EndDate.Equal(want) {
			t.Fatalf("end date %s, want %s", ent.EndDate, want)
		}
	})

	t.Run("ultimate grant shifts active standard", func(t *testing.T) {
		clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		e := newTestEngine(t, memory.New(), clk, testConfig())

		if _, err := e.GrantSubscription(ctx, "user_a", testOperator, quota.TierStandard, subscription.PlanMonth); err != nil {
			t.Fatal(err)
		}
		before, _ := e.GetSubscription(ctx, "user_a", quota.TierStandard)

		if _, err := e.GrantSubscription(ctx, "user_a", testOperator, quota.TierUltimate, subscription.PlanWeek); err != nil {
			t.Fatal(err)
		}

		after, _ := e.GetSubscription(ctx, "user_a", quota.TierStandard)
		shift := 7 * 24 * time.Hour
		if !after.StartDate.Equal(before.StartDate.Add(shift)) || !after.EndDate.Equal(before.EndDate.Add(shift)) {
			t.Fatalf("standard window not shifted by %s: before %+v after %+v", shift, before, after)
		}

		res, _ := e.Resolve(ctx, "user_a")
		if res.Tier != quota.TierUltimate {
			t.Fatalf("expected Ultimate governing, got %+v", res)
		}
	})
}

func TestUpdateQuota(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	e := newTestEngine(t, memory.New(), clk, testConfig())

	t.Run("unknown product", func(t *testing.T) {
		err := e.UpdateQuota(ctx, "user_a", "com.lumenchat.lifetime", clk.Now().Add(time.Hour), "", "")
		if !errors.Is(err, quota.ErrInvalidPlan) {
			t.Fatalf("expected ErrInvalidPlan, got %v", err)
		}
	})

	t.Run("reconciles standard purchase", func(t *testing.T) {
		expires := clk.Now().Add(30 * 24 * time.Hour)
		if err := e.UpdateQuota(ctx, "user_a", "com.lumenchat.sub.month", expires, "sub_ext_1", "inv_ext_1"); err != nil {
			t.Fatal(err)
		}

		ent, _ := e.GetSubscription(ctx, "user_a", quota.TierStandard)
		if !ent.IsActive || ent.PlanType != subscription.PlanMonth || !ent.EndDate.Equal(expires) {
			t.Fatalf("unexpected entitlement %+v", ent)
		}
		if len(ent.SubscriptionIDs) != 1 || len(ent.InvoiceIDs) != 1 {
			t.Fatalf("references not recorded: %+v", ent)
		}

		// Re-delivery with the same references does not duplicate them.
		if err := e.UpdateQuota(ctx, "user_a", "com.lumenchat.sub.month", expires, "sub_ext_1", "inv_ext_1"); err != nil {
			t.Fatal(err)
		}
		ent, _ = e.GetSubscription(ctx, "user_a", quota.TierStandard)
		if len(ent.SubscriptionIDs) != 1 || len(ent.InvoiceIDs) != 1 {
			t.Fatalf("re-delivery duplicated references: %+v", ent)
		}
	})

	t.Run("reset clears standard", func(t *testing.T) {
		if err := e.ResetQuota(ctx, "user_a"); err != nil {
			t.Fatal(err)
		}
		ent, _ := e.GetSubscription(ctx, "user_a", quota.TierStandard)
		if ent.IsActive || ent.PlanType != subscription.PlanNone {
			t.Fatalf("reset left entitlement %+v", ent)
		}
	})
}

func TestClearAllPreservesInviteEligibility(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.New(), nil, testConfig())

	if err := e.RedeemInviteReward(ctx, "user_a"); err != nil {
		t.Fatal(err)
	}
	if err := e.InitializeCredits(ctx, "user_a"); err != nil {
		t.Fatal(err)
	}
	if err := e.ClearAll(ctx, "user_a"); err != nil {
		t.Fatal(err)
	}

	st, _ := e.State(ctx, "user_a")
	if st.Credits != 0 || st.HasInitialCredits || st.Standard.IsActive {
		t.Fatalf("clear left residue: %+v", st)
	}
	if st.CanReceiveInviteReward {
		t.Fatal("clear restored invite eligibility")
	}
}

func TestFailedActorUnblocksCallers(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	// A committed envelope that no longer decodes faults the actor on
	// replay instead of applying a partial fold.
	bad := event.Envelope{
		UserKey:    "user_a",
		Version:    1,
		EventKind:  event.KindUpdateCredits,
		Payload:    json.RawMessage(`{`),
		OccurredAt: time.Now().UTC(),
	}
	if err := s.AppendEvents(ctx, "user_a", 0, []event.Envelope{bad}); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t, s, nil, testConfig())

	if _, err := e.GetCredits(ctx, "user_a"); !errors.Is(err, quota.ErrActorFailed) {
		t.Fatalf("expected ErrActorFailed, got %v", err)
	}

	// Follow-up calls fail promptly instead of waiting out their
	// deadline on an unanswered mailbox.
	short, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := e.GetCredits(short, "user_a"); !errors.Is(err, quota.ErrActorFailed) {
		t.Fatalf("expected ErrActorFailed on retry, got %v", err)
	}
	if short.Err() != nil {
		t.Fatal("retry ran out its deadline instead of failing fast")
	}
}

func TestEngineStop(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := quota.New(s, quota.WithConfig(testConfig()))
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute(ctx, "user_a", quota.ActionConversation); err != nil {
		t.Fatal(err)
	}

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute(ctx, "user_a", quota.ActionConversation); !errors.Is(err, quota.ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
	// Stop is idempotent.
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
}
