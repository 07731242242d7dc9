// Package coord implements the collaborative session coordinator: the
// per-chat prompt lock, invite-gated admission under a hard capacity cap,
// participant removal, and ownership transfer.
//
// Concurrency model:
//   - Every mutating operation behaves as if serialized per chat. Atomicity
//     comes from the Store implementations (transactions or conditional
//     writes), never from in-process locks, so the coordinator can be
//     replicated horizontally.
//   - Two different chats never contend with each other.
//   - Crash recovery for the prompt lock is lease-based: an expired lock row
//     is treated as absent by every read, no cleanup pass required.
package coord
