//go:build linux
// +build linux

package webserver

import (
	"testing"
)

func TestNextLoopRoundRobin(t *testing.T) {
	main := &Reactor{}
	a, b, c := &Reactor{}, &Reactor{}, &Reactor{}
	g := &reactorGroup{main: main, loops: []*Reactor{a, b, c}}

	want := []*Reactor{a, b, c, a, b, c}
	for i, w := range want {
		if got := g.nextLoop(); got != w {
			t.Fatalf("pick %d: got loop %p, want %p", i, got, w)
		}
	}
}

func TestNextLoopDegenerate(t *testing.T) {
	main := &Reactor{}
	g := newReactorGroup(main)
	if got := g.nextLoop(); got != main {
		t.Fatal("empty group must hand out the main reactor")
	}
}

func TestGroupStart(t *testing.T) {
	main := &Reactor{}
	g := newReactorGroup(main)
	if err := g.start(3); err != nil {
		t.Fatal(err)
	}
	for i, lp := range g.loops {
		if lp == nil {
			t.Fatalf("slot %d not published", i)
		}
	}
	g.quitAll()
}
