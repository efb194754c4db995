// Package denylist keeps the ids of logged-out session credentials so they
// are rejected before their natural expiry.
package denylist
