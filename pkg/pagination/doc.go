// Package pagination walks cursor-based CRM list endpoints to materialize
// a full collection.
//
// The platform pages with an opaque, server-issued "after" cursor: each
// list call returns one page plus the cursor for the next, and the final
// page carries no cursor. FetchAll accumulates pages until the cursor is
// absent or a page comes back empty. Two guards bound a misbehaving
// remote: a page budget and detection of a cursor repeating itself, since
// nothing else guarantees the loop terminates.
//
// A fetch is restartable from scratch but not resumable mid-stream.
package pagination
