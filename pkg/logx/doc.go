// Package logx is remindme's structured logging on top of zerolog.
//
// Components take a logx.Logger by value. The zero value discards
// everything, and a Logger obtained from Service follows Service.Apply, so
// a config reload changes level and sinks without re-wiring callers.
//
// Sinks:
//   - console (short timestamp, file:line caller)
//   - append-only JSON file
//   - an operator chat, WARN and above, rate limited
package logx
