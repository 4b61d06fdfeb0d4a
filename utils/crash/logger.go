package crash

import (
	"runtime"

	"github.com/rudderlabs/rudder-go-kit/logger"
)

// UsingLogger returns a panic handler that records the panic through
// the supplied logger, flushes it, and then re-panics so that the
// process still crashes with the original stack.
func UsingLogger(log logger.Logger, opts PanicWrapperOpts) panicHandler {
	return &loggerHandler{
		logger: log.Child("crash"),
		opts:   opts,
	}
}

type loggerHandler struct {
	logger logger.Logger
	opts   PanicWrapperOpts
}

func (h *loggerHandler) Notify(team string) func() {
	return func() {
		if r := recover(); r != nil {
			h.logger.Errorw("goroutine panicked",
				"team", team,
				"appVersion", h.opts.AppVersion,
				"releaseStage", h.opts.ReleaseStage,
				"appType", h.opts.AppType,
				"goRoutines", runtime.NumGoroutine(),
				"panic", r,
			)
			logger.Sync()
			panic(r)
		}
	}
}
