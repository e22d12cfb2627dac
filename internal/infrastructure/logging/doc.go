// Package logging builds the host's log/slog logger.
//
// Records carry service and version. Format is json or text, output stdout
// or stderr, and the level can be raised or lowered at runtime with
// SetLevel. Attributes named like password, token or secret are replaced
// with "[REDACTED]" before they reach the handler.
//
//	logger := logging.New(cfg.Logging, version)
//	disp := logger.Component("dispatcher")
//	disp.Info("plugin loaded", "module", "led")
package logging
