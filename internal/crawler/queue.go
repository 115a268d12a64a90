package crawler

import "sync"

// requestQueue is the two-lane work queue shared by all workers.
//
// Expedited requests are served before normal ones, FIFO within a lane.
// A request is skipped while another request of the same category is in
// flight, so a category is never processed by two workers at once.
// pending counts queued plus in-flight requests; the queue is drained when
// it reaches zero. Closed categories accept no further requests.
type requestQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	lanes   [2][]CrawlRequest // index 0 expedited, 1 normal
	active  map[string]bool
	closed  map[string]bool
	pending int
	stopped bool
	stopCh  chan struct{}
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{
		active: make(map[string]bool),
		closed: make(map[string]bool),
		stopCh: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func laneOf(p Priority) int {
	if p == PriorityExpedited {
		return 0
	}
	return 1
}

// push enqueues req
func (q *requestQueue) push(req CrawlRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(req)
}

// pushOpen enqueues req unless its category is closed
func (q *requestQueue) pushOpen(req CrawlRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed[req.Category] {
		return false
	}
	q.pushLocked(req)
	return true
}

// closeCategory rejects later pushOpen calls for category
func (q *requestQueue) closeCategory(category string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed[category] = true
}

func (q *requestQueue) pushLocked(req CrawlRequest) {
	lane := laneOf(req.Priority)
	q.lanes[lane] = append(q.lanes[lane], req)
	q.pending++
	q.cond.Broadcast()
}

// pop blocks until a request of an idle category is available. It returns
// false once the queue is drained or stopped.
func (q *requestQueue) pop() (CrawlRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.stopped || q.pending == 0 {
			return CrawlRequest{}, false
		}
		for lane := range q.lanes {
			for i, req := range q.lanes[lane] {
				if q.active[req.Category] {
					continue
				}
				q.lanes[lane] = append(q.lanes[lane][:i], q.lanes[lane][i+1:]...)
				q.active[req.Category] = true
				return req, true
			}
		}
		// Everything queued belongs to in-flight categories.
		q.cond.Wait()
	}
}

// done marks the in-flight req as finished
func (q *requestQueue) done(req CrawlRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.doneLocked(req)
}

func (q *requestQueue) doneLocked(req CrawlRequest) {
	delete(q.active, req.Category)
	q.pending--
	q.cond.Broadcast()
}

// handOff enqueues next and finishes current atomically, so pending never
// touches zero between the two.
func (q *requestQueue) handOff(current, next CrawlRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(next)
	q.doneLocked(current)
}

// stop makes pop return false for every waiting and future caller
func (q *requestQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.stopCh)
	q.cond.Broadcast()
}

// len returns the number of queued (not in-flight) requests
func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[0]) + len(q.lanes[1])
}

// drain removes and returns all queued requests
func (q *requestQueue) drain() []CrawlRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append(q.lanes[0], q.lanes[1]...)
	q.pending -= len(out)
	q.lanes[0], q.lanes[1] = nil, nil
	return out
}
