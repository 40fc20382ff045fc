// Package expense implements tally's expense ledger: validated money
// records owned by exactly one principal, soft deletion, typed list
// queries, and aggregate reports.
//
// Ownership is enforced here, not in the HTTP layer. Reads return only the
// caller's live rows; mutations pass AuthorizeOwnership first. A live row
// owned by someone else yields a Forbidden error that the API layer
// presents as the canonical not-found response, so existence of foreign
// expense IDs is never confirmed.
package expense
