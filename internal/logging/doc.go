// Package logging provides structured logging for the worker host.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// persistent context attributes. Every component that takes part in a worker
// start (the process manager, the start sequence, the inbound router) logs
// through a child logger carrying the worker, process and scope it concerns,
// so a single start can be followed across both execution contexts.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/workerhost", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("process allocated", "process_id", 3, "is_new", true)
//
// # Context Propagation
//
//	workerLogger := logger.WithWorker(7).WithScope("https://example.com/")
//	workerLogger.WithProcess(3).Debug("start message sent")
//
// Output:
//
//	{"time":"...","level":"DEBUG","msg":"start message sent","worker_id":7,"scope":"https://example.com/","process_id":3}
//
// # Nil Loggers
//
// A nil *Logger is valid and discards all output. Use [NopLogger] in tests
// when a non-nil value is needed.
package logging
