// Package hitloop gates agent actions behind human approval.
//
// A request is persisted as a pending record, a notification is delivered to
// an external channel through a circuit breaker with retries, and the caller
// blocks until a decision callback arrives or the deadline passes. Pending
// records survive restarts and are recovered on Start.
//
//	srv, _ := hitloop.New(ctx, cfg)
//	_, _ = srv.Start(ctx)
//	record, err := srv.RequestApproval(ctx, &orchestrator.Request{ActionRef: "send_email"})
//	if err == nil && record.Status == model.StatusApproved {
//		// proceed
//	}
//
// Decisions arrive through Service.SubmitDecision, the HTTP handler returned
// by Service.Handler or a queue consumer.
package hitloop
