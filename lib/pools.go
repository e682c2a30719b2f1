package lib

import "fmt"

var (
	timerPool   = &TimerPool{m: newPoolMetrics()}
	contextPool = &ContextPool{m: newPoolMetrics()}
	framePool   = &FramePool{m: newPoolMetrics()}
)

func StartPoolMetrics() {
	timerPool.m.start()
	contextPool.m.start()
	framePool.m.start()
}

func ReleasePoolMetrics() {
	timerPool.m.release()
	contextPool.m.release()
	framePool.m.release()
}

func JsonStringPoolMetrics() string {
	return fmt.Sprintf("{\"timerPool\" = %s, \"contextPool\" = %s, \"framePool\" = %s}",
		timerPool.m.metricsString(),
		contextPool.m.metricsString(),
		framePool.m.metricsString(),
	)
}

// FramePoolMetrics exposes the counters of the outgoing frame buffer pool.
func FramePoolMetrics() *PoolMetrics { return framePool.m }
