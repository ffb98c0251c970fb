// Package reconcile keeps the local ledger in step with the remote store.
//
// Overview
//
// A Reconciler is either Detached (no sync code, purely local) or Attached to
// one sync code. Attaching fetches the shared snapshot, lets a non-empty
// remote data set replace the local one, and opens live subscriptions on
// both remote paths:
//
//	activities/<CODE>   JSON array of records
//	settings/<CODE>     {"stepsPerUnit": n}
//
// While attached, every local mutation is pushed as a whole-value overwrite
// and every pushed value from another device replaces the local copy
// wholesale. The last writer wins; nothing is merged.
//
// Threading
//
// The Reconciler is not safe for concurrent use. All of Attach, HandleUpdate
// and the Push methods must be called from the goroutine that owns the
// ledger. Remote notifications arrive on subscription goroutines and are
// handed to the Deliver callback, which is expected to enqueue them for that
// owning goroutine. Outgoing writes are performed by a single publisher
// goroutine so they leave in the order the mutations happened.
//
// Usage
//
//	r := reconcile.New(reconcile.Config{
//	    Ledger:  l,
//	    Local:   cache,
//	    Remote:  client,
//	    Deliver: func(u remote.Update) { queue <- u },
//	})
//	r.Start(ctx)
//	defer r.Close()
//
//	if _, err := r.Attach(ctx, "ABC123"); err != nil {
//	    return err
//	}
//	for u := range queue {
//	    r.HandleUpdate(ctx, u)
//	}
package reconcile
