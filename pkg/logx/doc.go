// Package logx configures courtbot's structured logging.
//
// It wraps zerolog to keep:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - an optional chat sink for warnings (min-level + rate limiting)
package logx
