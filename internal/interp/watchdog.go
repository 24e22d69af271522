package interp

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/zhangyunhao116/scriptbox/internal/limits"
)

const (
	watchInterval = 10 * time.Millisecond
	// gcInterval throttles the forced collections used to tell live heap
	// from garbage the collector has not reclaimed yet.
	gcInterval = 100 * time.Millisecond
)

const heapMetric = "/memory/classes/heap/objects:bytes"

// Function variables for dependency injection in tests.
var (
	heapBytesFn = heapBytes
	cpuTimeFn   = limits.CPUTime
	forceGCFn   = runtime.GC
)

// watch polls heap growth and CPU time against the budgets in req and stops
// the run when one is exceeded. The returned function ends the watch.
func watch(req Request, st *stopper) func() {
	if req.MemoryBytes <= 0 && req.CPU <= 0 {
		return func() {}
	}
	heap, cpu, gc := heapBytesFn, cpuTimeFn, forceGCFn
	if req.MemoryBytes > 0 {
		// Garbage left by earlier runs would otherwise raise the baseline
		// and hide growth once it is collected.
		gc()
	}
	baseHeap := heap()
	baseCPU := cpu()
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		var lastGC time.Time
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			if req.CPU > 0 && cpu()-baseCPU > req.CPU {
				st.stop(KindCPU, "cpu budget exhausted")
				return
			}
			if req.MemoryBytes <= 0 || heap()-baseHeap <= req.MemoryBytes {
				continue
			}
			if time.Since(lastGC) < gcInterval {
				continue
			}
			gc()
			lastGC = time.Now()
			if heap()-baseHeap > req.MemoryBytes {
				st.stop(KindMemory, "memory budget exhausted")
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// heapBytes returns the bytes occupied by heap objects, live or not yet
// swept.
func heapBytes() int64 {
	s := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return int64(s[0].Value.Uint64())
}
