// Package outbox implements the transactional outbox pattern, ensuring reliable event publishing
// by first persisting events within a database transaction before they are sent to a message broker.
//
// The core of the pattern involves two main operations:
//
//  1. Writing: Entries are stored durably in an "outbox" table as part of the application's
//     local database transaction. This ensures that the event is captured atomically with
//     the business operation that produces it.
//
//  2. Publishing: A background loop reads pending entries from the outbox table, oldest
//     first, and publishes them through a transport. Published entries are marked processed;
//     failed ones have their retry count incremented and are attempted again on the next cycle.
//     Entries are never deleted.
//
// This package provides the following components to integrate this pattern:
//   - A `Writer` to facilitate the atomic storage of entries into the outbox table
//     alongside your application's domain changes within a single transaction.
//   - A `Store` reading pending entries and recording publish outcomes.
//   - A `Publisher` background process polling the Store and publishing through a
//     transport.Sender.
//
// Delivery is at least once: an entry may be published again if its outcome could not be
// saved, so consumers must apply events idempotently (see the projection package).
// Run a single Publisher per outbox table; concurrent publishers would publish the same
// entries twice.
package outbox
