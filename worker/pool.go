/*
Copyright © 2025 The Hastemap Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package worker

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"hastemap.dev/hastemap/internal/logging"
)

// ChildModeFlag is the flag the running binary recognizes to re-exec
// itself as a worker-pool child process (wired up by cmd/).
const ChildModeFlag = "--hastemap-worker-child"

// MaxRetries is how many times a single job is retried against a fresh
// child process before the pool gives up on it (spec §4.4).
const MaxRetries = 3

// wireJob/wireReply are the msgpack-framed request/response sent over a
// child process's stdin/stdout. Reusing the Snapshot codec dependency
// rather than inventing a second wire format.
type wireJob struct {
	Job Job
}

type wireReply struct {
	Reply Reply
}

// poolWorker owns one long-lived child process and serializes jobs
// through it one at a time over its stdin/stdout pipes.
type poolWorker struct {
	cmd    *exec.Cmd
	stdin  *msgpack.Encoder
	stdout *msgpack.Decoder
	mu     sync.Mutex
}

func spawnPoolWorker() (*poolWorker, error) {
	cmd := exec.Command(os.Args[0], ChildModeFlag)
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open worker stdin: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open worker stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker child process: %w", err)
	}

	return &poolWorker{
		cmd:    cmd,
		stdin:  msgpack.NewEncoder(stdinPipe),
		stdout: msgpack.NewDecoder(bufio.NewReader(stdoutPipe)),
	}, nil
}

func (w *poolWorker) run(job Job) (Reply, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.stdin.Encode(wireJob{Job: job}); err != nil {
		return Reply{}, fmt.Errorf("send job to worker: %w", err)
	}
	var resp wireReply
	if err := w.stdout.Decode(&resp); err != nil {
		return Reply{}, fmt.Errorf("read reply from worker: %w", err)
	}
	return resp.Reply, nil
}

func (w *poolWorker) kill() {
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
		_ = w.cmd.Wait()
	}
}

// Pool dispatches jobs to up to N separate OS processes (spec §4.4/§5:
// "dispatch to a process pool... separate OS processes"), mirroring the
// teacher's channel-of-jobs/waitgroup-of-workers shape
// (generate.ModuleBatchProcessor) but with real process isolation instead
// of goroutines.
type Pool struct {
	numWorkers int
	mu         sync.Mutex
	workers    []*poolWorker
}

// NewPool creates a process pool with the given worker count. Workers are
// spawned lazily on first Extract/Sha1Only call (spec §4.4 "lazily
// created on first use").
func NewPool(numWorkers int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{numWorkers: numWorkers}
}

func (p *Pool) ensureStarted() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers != nil {
		return nil
	}
	workers := make([]*poolWorker, 0, p.numWorkers)
	for range p.numWorkers {
		w, err := spawnPoolWorker()
		if err != nil {
			for _, started := range workers {
				started.kill()
			}
			return err
		}
		workers = append(workers, w)
	}
	p.workers = workers
	return nil
}

// dispatch runs jobs in parallel across the pool's workers, each worker
// slot pulling the next job from a shared queue, retrying a job against a
// freshly spawned replacement worker up to MaxRetries times on failure.
func (p *Pool) dispatch(jobs []Job, sha1Only bool) []Reply {
	if err := p.ensureStarted(); err != nil {
		logging.Error("failed to start worker pool: %v", err)
		replies := make([]Reply, len(jobs))
		for i := range replies {
			replies[i] = Reply{Err: err}
		}
		return replies
	}

	numWorkers := min(len(jobs), p.numWorkers)
	if numWorkers == 0 {
		return nil
	}

	jobsChan := make(chan indexedJob, len(jobs))
	for i, job := range jobs {
		jobsChan <- indexedJob{index: i, job: job}
	}
	close(jobsChan)

	replies := make([]Reply, len(jobs))
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for slot := range numWorkers {
		go func(slot int) {
			defer wg.Done()
			for ij := range jobsChan {
				replies[ij.index] = p.runWithRetry(slot, ij.job, sha1Only)
			}
		}(slot)
	}
	wg.Wait()

	return replies
}

type indexedJob struct {
	index int
	job   Job
}

func (p *Pool) runWithRetry(slot int, job Job, sha1Only bool) Reply {
	jobCopy := job
	jobCopy.Sha1Only = sha1Only

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		p.mu.Lock()
		w := p.workers[slot]
		p.mu.Unlock()

		reply, err := w.run(jobCopy)
		if err == nil {
			return reply
		}
		lastErr = err
		logging.Warning("worker job for %s failed (attempt %d/%d): %v", job.FilePath, attempt+1, MaxRetries+1, err)

		// The child's pipe broke; replace it before retrying.
		w.kill()
		replacement, spawnErr := spawnPoolWorker()
		if spawnErr != nil {
			lastErr = spawnErr
			break
		}
		p.mu.Lock()
		p.workers[slot] = replacement
		p.mu.Unlock()
	}
	return Reply{Err: fmt.Errorf("worker job for %s failed after %d attempts: %w", job.FilePath, MaxRetries+1, lastErr)}
}

// Extract dispatches a single job through the pool. Callers doing batch
// work should prefer ExtractAll to amortize goroutine/channel overhead.
func (p *Pool) Extract(job Job) Reply {
	replies := p.dispatch([]Job{job}, false)
	if len(replies) == 0 {
		return Reply{}
	}
	return replies[0]
}

func (p *Pool) Sha1Only(job Job) Reply {
	replies := p.dispatch([]Job{job}, true)
	if len(replies) == 0 {
		return Reply{}
	}
	return replies[0]
}

// ExtractAll dispatches every job across the pool concurrently, returning
// replies in the same order as jobs.
func (p *Pool) ExtractAll(jobs []Job) []Reply {
	return p.dispatch(jobs, false)
}

// Cleanup tears down every child process (spec §4.4 "_cleanup"). Safe to
// call on a pool that was never started.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.kill()
	}
	p.workers = nil
}

// RunChild is the worker-pool child process entry point: reads msgpack-
// framed jobs from stdin, executes them in-band against the local
// filesystem, and writes msgpack-framed replies to stdout, until stdin is
// closed. Invoked by cmd/ when the binary is re-exec'd with ChildModeFlag.
func RunChild(executor *InBand) error {
	dec := msgpack.NewDecoder(bufio.NewReader(os.Stdin))
	enc := msgpack.NewEncoder(os.Stdout)

	for {
		var wj wireJob
		if err := dec.Decode(&wj); err != nil {
			return nil // stdin closed: parent is shutting this child down
		}

		var reply Reply
		if wj.Job.Sha1Only {
			reply = executor.Sha1Only(wj.Job)
		} else {
			reply = executor.Extract(wj.Job)
		}

		if err := enc.Encode(wireReply{Reply: reply}); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
}
