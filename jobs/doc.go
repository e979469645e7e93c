// Package jobs persists documents and summary artifacts and owns every status
// transition they go through.
//
// The claim columns (status, claim_token, claimed_at) are the only
// coordination primitive between request handlers and sweeps. A claim is a
// single conditional UPDATE, so exactly one caller wins per row no matter how
// many processes share the database. Sweeps select candidates with
// FOR UPDATE SKIP LOCKED on Postgres; SQLite ignores the locking clause and
// serializes writers instead.
//
// Callers never write these tables directly. DocumentMachine and
// SummaryMachine are the sole writers.
package jobs
