// Package logging provides structured logging with per-module log level configuration.
//
// Every subsystem asks for its own logger once and keeps it:
//
//	logger := logging.GetLogger("dispatcher")
//	logger.Debug("notifier registered", "fd", fd, "type", typ)
//
// Records are routed to stdout (text or json), to the systemd journal when
// journald is reachable, and to an in-memory history that the HTTP API
// serves under /api/logs.
//
// Levels are held in a slog.LevelVar per module, so Initialize and SetLevels
// change the verbosity of loggers that were created earlier:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"pipeline":   "debug",
//			"dispatcher": "warn",
//		},
//	})
//
// The matching TOML section is:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	pipeline = "debug"
//
// Journal entries carry SYSLOG_IDENTIFIER=camkit and the module as MODULE:
//
//	journalctl -t camkit MODULE=capture -f
package logging
