// Package quota provides a per-user quota and subscription engine for Go
// applications.
//
// Quota is designed as a library, not a service. Import it directly into
// your Go application and invoke it in-process from your orchestration
// layer. It provides:
//
//   - An event-sourced per-user state machine (credits, rate limits,
//     subscriptions) with a pure reducer and replay-on-start recovery
//   - Single-writer-per-key actors: all operations for one user are
//     serialized through a mailbox, eliminating ledger and token-bucket races
//   - A token-bucket rate limiter with continuous, loss-free refill
//   - A non-negative credits ledger with a one-time initialization grant
//   - A dual-tier (Standard/Ultimate) subscription resolver with strict
//     Ultimate priority and documented upgrade-merge arithmetic
//   - Pluggable hooks for metrics, auditing, and custom side channels
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/lumenchat/quota"
//	    "github.com/lumenchat/quota/store/postgres"
//	)
//
//	// Initialize store
//	store := postgres.New(db)
//
//	// Create engine
//	e := quota.New(store)
//
//	// Start the engine (runs store migrations, initializes plugins)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Core Concepts
//
// The action gate decides whether a billable action may proceed and applies
// its deductions as one committed event:
//
//	d, err := e.Execute(ctx, userKey, quota.ActionConversation)
//	if d.Allowed {
//	    // Start the conversation
//	} else {
//	    // d.Reason is ReasonInsufficientCredits or ReasonRateLimited
//	}
//
// Credits initialize once per user and never double-grant:
//
//	_ = e.InitializeCredits(ctx, userKey)
//	info, _ := e.GetCredits(ctx, userKey)
//	if info.ShouldShowToast {
//	    // Show the welcome-credits toast, then:
//	    _ = e.MarkToastShown(ctx, userKey)
//	}
//
// Billing collaborators overwrite entitlements after verifying payments:
//
//	err := e.UpdateSubscription(ctx, userKey, quota.TierStandard, ent)
//
// When upgrading a user whose Standard entitlement is still active, the
// billing caller computes the Ultimate end date itself:
//
//	end := ultimateBaseEnd.Add(standardEnt.Remaining(time.Now()))
//
// # Consistency
//
// Every mutation is a committed event: the engine appends to the user's log
// with optimistic version checks, folds the batch through the pure reducer,
// and only then acknowledges the caller. On restart each actor replays its
// log (snapshot plus tail) before accepting new operations, so one event
// per allowed action means exactly one deduction per allowed action, even
// across crashes.
//
// # TypeID
//
// Durable records use TypeID for globally unique, type-safe identifiers:
//
//	qevt_01h2xcejqtf2nbrexx3vqjhp41  // Event ID
//	qsnp_01h2xcejqtf2nbrexx3vqjhp41  // Snapshot ID
//	grnt_01h455vb4pex5vsknk084sn02q  // Operator grant ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of records.
package quota
