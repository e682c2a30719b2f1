package lib

import (
	"sync"
	"sync/atomic"

	"github.com/TheSmallBoat/tsnet/queue"
	"github.com/someonegg/gox/syncx"
)

// runLoop executes posted callbacks one at a time on a single goroutine.
// Every connection owned by a Server or Client runs its state transitions
// here, so connection state needs no locking of its own.
type runLoop struct {
	tasks queue.Queue[func()]

	running atomic.Bool
	stopped sync.Once
	done    syncx.DoneChan
}

func newRunLoop() *runLoop {
	return &runLoop{done: syncx.NewDoneChan()}
}

func (l *runLoop) post(fn func()) {
	if fn != nil {
		l.tasks.PushBack(fn)
	}
}

func (l *runLoop) start() {
	if l.running.CompareAndSwap(false, true) {
		go l.run()
	}
}

func (l *runLoop) run() {
	defer l.done.SetDone()

	for {
		l.tasks.WaitForItem()
		fn, err := l.tasks.PopFront()
		if err != nil {
			continue
		}
		if fn == nil { // stop marker
			return
		}
		fn()
	}
}

// stop lets every callback posted so far run, then ends the loop and waits
// for its goroutine. Callbacks posted afterwards are never run.
func (l *runLoop) stop() {
	l.stopped.Do(func() { l.tasks.PushBack(nil) })
	if l.running.Load() {
		<-l.done
	}
}

func (l *runLoop) isStopped() bool { return l.done.R().Done() }
