// Package logx configures punchd's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Loggers live across config reloads (Service.Apply swaps sinks)
package logx
