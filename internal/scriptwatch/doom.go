package scriptwatch

import (
	"net/url"
	"path"
	"path/filepath"

	"github.com/Iron-Ham/workerhost/internal/executor"
	"github.com/Iron-Ham/workerhost/internal/logging"
	"github.com/Iron-Ham/workerhost/internal/worker"
)

// MatchesScript reports whether scriptURL serves the file at filePath: the
// URL path must end with the file's name.
func MatchesScript(scriptURL, filePath string) bool {
	u, err := url.Parse(scriptURL)
	if err != nil || u.Path == "" {
		return false
	}
	return path.Base(u.Path) == filepath.Base(filePath)
}

// DoomWorkers returns a ChangeFunc that, on the control context, dooms the
// running version of every starting or running worker whose script matches
// the changed file and then stops it unless a debugger holds it.
func DoomWorkers(controlCtx executor.Executor, instances func() []*worker.Instance, logger *logging.Logger) ChangeFunc {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("scriptwatch")

	return func(filePath string) {
		posted := controlCtx.Post(func() {
			for _, inst := range instances() {
				status := inst.Status()
				if status != worker.StatusStarting && status != worker.StatusRunning {
					continue
				}
				if !MatchesScript(inst.ScriptURL(), filePath) {
					continue
				}
				inst.NotifyVersionDoomed()
				if err := inst.StopIfIdle(); err != nil {
					logger.Warn("stop after script change failed",
						"worker_id", int64(inst.ID()),
						"error", err,
					)
				}
			}
		})
		if !posted {
			logger.Debug("control context closed, ignoring script change", "path", filePath)
		}
	}
}
