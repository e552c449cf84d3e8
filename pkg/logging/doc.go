// Package logging provides a small subsystem-tagged wrapper around log/slog.
//
// Every call names the subsystem emitting it ("StateStore", "DepTree",
// "Transition", ...) so that operators grepping rc's output can separate a
// driver-level decision from a single service script's own chatter. There is
// exactly one process-wide logger, initialized once via InitForCLI at
// program startup; packages below main never construct their own handler.
package logging
