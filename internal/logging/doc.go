// Package logging configures the process-wide slog logger for amankb.
// Logs are JSON lines written to a rotating file under ~/.amankb/logs/,
// optionally teed to stderr. The Viewer reads them back for `amankb logs`.
package logging
