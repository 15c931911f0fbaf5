// Package logging provides structured logging for the launcher.
//
// It wraps log/slog to write JSON lines to launcher.log inside the cache
// directory. Every launcher process sharing a cache appends to the same
// file, so entries carry the resource and race candidate they concern.
//
// # Basic Usage
//
//	logger, err := logging.NewLoggerWithRotation(cacheDir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	res := logger.WithResource("https://example.org/app.jar", "1.2")
//	res.WithCandidate(0, "https://example.org/app.jar?version-id=1.2").Info("download started")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"download started","resource":"https://example.org/app.jar","version":"1.2","rank":0,"candidate":"https://example.org/app.jar?version-id=1.2"}
//
// # Log Rotation
//
// [RotatingWriter] rotates by size. Backups are named launcher.log.1 (newest)
// through launcher.log.N and are gzipped in the background when compression
// is enabled.
//
// # Reading Logs
//
// [ReadLogs] merges the current file and all backups, [FilterLogs] narrows
// the result, and [WriteEntries] renders it as JSON, text or CSV.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a buffer to
// assert on it.
package logging
