// Package logx is remindd's structured logging, a thin layer over zerolog.
//
// Components take a Logger by value and derive per-component loggers with
// With. Console output is human-readable; file output is JSON lines.
package logx
