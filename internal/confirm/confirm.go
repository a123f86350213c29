// Package confirm tracks yes/no prompts addressed to a single player, such as
// a pending draw offer, and times them out when nobody answers.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrAlreadyPending = errors.New("responder already has a pending prompt")
	ErrNoPending      = errors.New("no pending prompt for responder")
)

// Decision is the terminal state of a prompt.
type Decision int

const (
	Accepted Decision = iota
	Declined
	TimedOut
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Declined:
		return "declined"
	default:
		return "timed out"
	}
}

// Prompt is one outstanding question. Topic is caller-defined, for example
// the (channel, name) of the match a draw offer belongs to.
type Prompt struct {
	ID          string
	Topic       string
	RequesterID string
	ResponderID string
	CreatedAt   time.Time

	done chan Decision
	once sync.Once
}

func (p *Prompt) resolve(d Decision) {
	p.once.Do(func() {
		p.done <- d
		close(p.done)
	})
}

// Collector keys prompts by responder; a responder can only be asked one
// question at a time.
type Collector struct {
	mu          sync.Mutex
	byResponder map[string]*Prompt
	seq         uint64
}

func NewCollector() *Collector {
	return &Collector{byResponder: make(map[string]*Prompt)}
}

// Open registers a prompt for responderID and returns it. The caller then
// waits on Await while command handlers feed answers through Resolve.
func (c *Collector) Open(topic, requesterID, responderID string) (*Prompt, error) {
	if topic == "" || requesterID == "" || responderID == "" {
		return nil, ErrInvalidArgs
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byResponder[responderID]; ok {
		return nil, ErrAlreadyPending
	}
	p := &Prompt{
		ID:          c.nextID(),
		Topic:       topic,
		RequesterID: requesterID,
		ResponderID: responderID,
		CreatedAt:   time.Now(),
		done:        make(chan Decision, 1),
	}
	c.byResponder[responderID] = p
	return p, nil
}

// Resolve answers the responder's pending prompt.
func (c *Collector) Resolve(responderID string, accept bool) (*Prompt, error) {
	c.mu.Lock()
	p, ok := c.byResponder[responderID]
	if ok {
		delete(c.byResponder, responderID)
	}
	c.mu.Unlock()
	if !ok {
		return nil, ErrNoPending
	}
	if accept {
		p.resolve(Accepted)
	} else {
		p.resolve(Declined)
	}
	return p, nil
}

// Cancel drops the responder's pending prompt without a decision, unblocking
// any waiter with TimedOut.
func (c *Collector) Cancel(responderID string) {
	c.mu.Lock()
	p, ok := c.byResponder[responderID]
	if ok {
		delete(c.byResponder, responderID)
	}
	c.mu.Unlock()
	if ok {
		p.resolve(TimedOut)
	}
}

// Pending returns the responder's open prompt, if any.
func (c *Collector) Pending(responderID string) (*Prompt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byResponder[responderID]
	return p, ok
}

// Await blocks until the prompt is answered, the timeout passes, or ctx is
// cancelled. Timeout and cancellation both report TimedOut and withdraw the
// prompt.
func (c *Collector) Await(ctx context.Context, p *Prompt, timeout time.Duration) Decision {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-p.done:
		return d
	case <-timer.C:
	case <-ctx.Done():
	}
	c.mu.Lock()
	if cur, ok := c.byResponder[p.ResponderID]; ok && cur == p {
		delete(c.byResponder, p.ResponderID)
	}
	c.mu.Unlock()
	p.resolve(TimedOut)
	// A concurrent Resolve may have won the race; report whatever landed.
	return <-p.done
}

func (c *Collector) nextID() string {
	n := atomic.AddUint64(&c.seq, 1)
	return fmt.Sprintf("cf-%d-%d", time.Now().UnixNano(), n)
}
