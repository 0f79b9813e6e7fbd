// Package logx configures relaybot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional IRC sink (min-level + rate limiting) for operator alerts
package logx
