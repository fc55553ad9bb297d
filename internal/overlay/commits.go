package overlay

import (
	"context"
	"log"
	"sync"

	"github.com/jaakkos/hangout/internal/avatar"
	"github.com/jaakkos/hangout/internal/domain"
)

// CommitFunc persists a released drag position.
type CommitFunc func(ctx context.Context, space domain.SpaceID, participant domain.ParticipantID, pos domain.Position) error

type commitJob struct {
	ctx         context.Context
	space       domain.SpaceID
	participant domain.ParticipantID
	pos         domain.Position
	loop        *avatar.Loop
}

// commitQueue runs commits one at a time on its own goroutine and keeps only
// the latest pending job: a newer release supersedes one that has not started,
// so an older position can never be written after a newer one.
type commitQueue struct {
	commit CommitFunc
	logger *log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending *commitJob
	running bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newCommitQueue(commit CommitFunc, logger *log.Logger) *commitQueue {
	q := &commitQueue{
		commit: commit,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *commitQueue) submit(job commitJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if q.pending != nil {
		q.logger.Printf("Overlay: commit %v for %s superseded", q.pending.pos, q.pending.participant)
	}
	q.pending = &job
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *commitQueue) loop() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			job := q.pending
			q.pending = nil
			if job == nil {
				q.running = false
				q.cond.Broadcast()
				q.mu.Unlock()
				break
			}
			q.running = true
			q.mu.Unlock()
			q.run(job)
		}
	}
}

func (q *commitQueue) run(job *commitJob) {
	if job.ctx.Err() != nil {
		q.logger.Printf("Overlay: discarded commit for %s: avatar left the surface", job.participant)
		return
	}
	if q.commit == nil {
		return
	}
	if err := q.commit(job.ctx, job.space, job.participant, job.pos); err != nil {
		if job.ctx.Err() != nil {
			q.logger.Printf("Overlay: discarded commit for %s: avatar left the surface", job.participant)
			return
		}
		q.logger.Printf("Overlay: commit position for %s failed: %v", job.participant, err)
		job.loop.CommitFailed()
	}
}

// wait blocks until no commit is pending or running.
func (q *commitQueue) wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending != nil || q.running {
		q.cond.Wait()
	}
}

// close drops a pending commit and waits for a running one.
func (q *commitQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	close(q.wake)
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
