// Package logx is a thin structured-logging layer over zerolog.
//
// It exposes a value-type Logger that stays live across configuration
// reloads: the Service swaps sinks (console, JSON file, Telegram owner
// chat) under the hood while handed-out Loggers keep working.
package logx
