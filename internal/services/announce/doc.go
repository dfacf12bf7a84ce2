// Package announce delivers one text to every known member of a chat as a
// direct message.
//
// # Concepts
//
// An announcement is represented as a job. Jobs run batch by batch through
// the shared send limiter; within a batch all sends run concurrently.
// Large jobs (above the confirmation threshold) require an explicit operator
// confirmation before any send happens.
//
// # Delivery semantics
//
// Delivery is best-effort. A recipient that cannot be reached is counted as
// failed and the job continues; only a failure to load the recipient list
// aborts a job before it starts. Cancellation stops the job at the next
// batch boundary and reports partial results.
package announce
