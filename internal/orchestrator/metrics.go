package orchestrator

import "github.com/samueljseay/hal9999/internal/metrics"

type taskTimer struct {
	t *metrics.Timer
}

func newTaskTimer() taskTimer {
	return taskTimer{t: metrics.NewTimer()}
}

func (t taskTimer) record() {
	t.t.ObserveDuration(metrics.TaskDuration)
}
