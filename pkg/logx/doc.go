// Package logx is a thin zerolog wrapper used across eventwatch.
//
// Sinks:
//   - Console (human-friendly pretty output)
//   - File (JSON lines, append-only)
//
// The zero value Logger is a safe no-op, which keeps test code and
// optional components free of nil checks.
package logx
