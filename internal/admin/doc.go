// Package admin provides the administrative console for the gate.
//
// # Overview
//
// The console is used by the gatekeeper CLI. It is guarded by a bcrypt
// password hash (admin.password_hash); callers check Authenticate before
// any mutating operation.
//
// # Operations
//
// Invitation management writes through an invite.FileSource and reloads the
// served list, so edits and revocations take effect for in-flight sessions:
//
//   - AddInvitee, RevokeInvitee, RestoreInvitee
//   - Invitees lists the served snapshot
//
// Quota management delegates to quota.Tracker:
//
//   - ResetQuota zeroes today's count; the actor is audited
//   - QuotaStatus reports without consuming
//
// Monitoring reads the persisted audit trail:
//
//   - Stats combines invitation counts, store.AuditStats and today's usage totals
//   - RecentEvents lists events with a store.AuditFilter
package admin
