// Package store provides punchd's persistence layer.
//
// Two stores live here:
//   - Users: the whole-collection JSON user file. Every write replaces
//     the file atomically (write-temp-then-rename), so a crash can
//     never leave a half-written collection behind. Torn reads are the
//     accepted risk model.
//   - Records: the append-only attendance log, with a dependency-free
//     jsonl file driver and a SQLite driver selected by config.
package store
