// Package writer merges response payloads into a record store.
//
// A Writer walks a query tree and the matching response in lockstep. Each
// object in the response becomes a record: its ID comes from the payload's
// id field when present, otherwise from an ID previously written at the
// same position (list index for plural fields, the existing link for
// singular fields, connection and node for edges), and only then from a
// newly generated client ID. Connections get a record of their own per
// combination of filter arguments and a range holding their edges.
//
// Every record created or changed by a write is reported to a
// ChangeTracker.
package writer
