// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package webserver

import (
	"runtime"
	"sync"
)

// reactorGroup spawns the worker reactors and hands them out round-robin.
// With no workers the main reactor serves connections itself.
type reactorGroup struct {
	main  *Reactor
	loops []*Reactor
	next  int
}

func newReactorGroup(main *Reactor) *reactorGroup {
	return &reactorGroup{main: main}
}

// start launches n workers. Each pins itself to an OS thread, constructs
// its Reactor on its own stack and publishes the address under the condvar
// before entering Run; start returns once every slot is filled.
func (g *reactorGroup) start(n int) error {
	if n <= 0 {
		return nil
	}
	g.loops = make([]*Reactor, n)
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	started := 0
	var firstErr error
	for i := 0; i < n; i++ {
		go func(i int) {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			lp, err := NewReactor()
			mu.Lock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
			} else {
				g.loops[i] = lp
			}
			started++
			cond.Signal()
			mu.Unlock()
			if err != nil {
				return
			}
			lp.Run()
			lp.Close()
		}(i)
	}
	mu.Lock()
	for started < n {
		cond.Wait()
	}
	err := firstErr
	mu.Unlock()
	return err
}

// nextLoop is only called from the main reactor's thread.
func (g *reactorGroup) nextLoop() *Reactor {
	if len(g.loops) == 0 {
		return g.main
	}
	lp := g.loops[g.next]
	g.next = (g.next + 1) % len(g.loops)
	return lp
}

func (g *reactorGroup) quitAll() {
	for _, lp := range g.loops {
		if lp != nil {
			lp.Quit()
		}
	}
}
