package job

import (
	"sync"

	"github.com/kbukum/conduit/logger"
)

var mainQueue = &coordinator{}

// coordinator runs submitted work serially in FIFO order. A drain goroutine
// is started on demand and exits once the queue is empty.
type coordinator struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (c *coordinator) submit(work func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, work)
	if !c.running {
		c.running = true
		go c.drain()
	}
}

func (c *coordinator) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.running = false
			c.mu.Unlock()
			return
		}
		work := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.run(work)
	}
}

func (c *coordinator) run(work func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get("job").Error("main work panicked", logger.Fields("panic", r))
		}
	}()
	work()
}
