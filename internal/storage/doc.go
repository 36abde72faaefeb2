// Package storage is the broadcast job store.
//
// A job is keyed by the bot id that submitted it. Creating one is a two step
// affair: TryClaim reserves the key with a single atomic primitive of the
// backing driver, then Persist fills in the record. Removing jobs belongs to
// the fan-out worker and is not exposed here.
//
// Drivers:
//   - "memory": process-local map (tests, single instance setups)
//   - "redis": SET NX / SET XX on one key per bot
//   - "sqlite", "postgres": broadcast_jobs table via sqlx
package storage
