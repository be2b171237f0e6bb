package rpc

import (
	"sync"

	"github.com/timandy/routine"
)

// callstack tracks, per goroutine, the stack of connections currently inside
// Process. It exists so code invoked indirectly from Process — typically a
// dispatched handler — can discover the connection servicing it and
// originate calls back to the same peer without the connection being
// threaded through every signature.
//
// Assumes lookups are much more frequent than push/pop, same trade-off as a
// read-mostly goroutine-local.
type callstack struct {
	lock   sync.RWMutex
	stacks map[int64][]*Conn
}

var current = &callstack{stacks: map[int64][]*Conn{}}

func (cs *callstack) push(c *Conn) {
	goid := routine.Goid()
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.stacks[goid] = append(cs.stacks[goid], c)
}

func (cs *callstack) pop() {
	goid := routine.Goid()
	cs.lock.Lock()
	defer cs.lock.Unlock()
	stack := cs.stacks[goid]
	if len(stack) <= 1 {
		delete(cs.stacks, goid)
		return
	}
	cs.stacks[goid] = stack[:len(stack)-1]
}

func (cs *callstack) top() *Conn {
	goid := routine.Goid()
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	stack := cs.stacks[goid]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

// Current returns the innermost connection being serviced by Process on the
// calling goroutine, or nil when no Process call is active here.
func Current() *Conn {
	return current.top()
}
