// Package gateway orchestrates the invitation gate.
//
// # Overview
//
// The gateway package is the central coordinator. It owns no state of its
// own; every decision is delegated to a component and every exit path leaves
// an entry in the audit trail.
//
// # Login
//
//	normalize + format check   -> login_failed
//	invitation lookup          -> not_invited (missing or revoked)
//	rate check "auth"          -> rate_limited (*ratelimit.LimitError)
//	issue session              -> session_issued, login_succeeded
//
// # Privileged Actions
//
// Authorize validates the credential and consumes one unit of the daily
// quota, returning a Grant with the remaining count for display. Submit
// validates the credential, checks the file extension and applies the
// "upload" rate limit. QuotaStatus reports without consuming.
//
// # Administration
//
// ResetQuota requires an active administrator's credential. ReloadInvitations
// swaps the invitation list and records config_reloaded or config_rejected;
// a rejected list never replaces the one being served.
//
// # Construction
//
// New wires already-built components, which is what tests use. Open builds
// everything from a *config.Config: the SQLite store (audit trail, and
// counters unless redis.url is set), the Redis store, the async audit logger
// with an optional JSON-lines mirror, and loads the invitation list.
//
//	rt, err := gateway.Open(ctx, cfg, logger, metrics.New())
//	if err != nil {
//	    return err
//	}
//	defer rt.Close(ctx)
package gateway
