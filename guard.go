/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package scoutslog

import (
	"sync"

	"github.com/petermattis/goid"
)

// Guard is a per-goroutine "enrichment in progress" flag.
//
// Each goroutine only ever reads and writes its own entry, so a goroutine holding
// the flag never affects another one. The zero value is ready to use.
type Guard struct {
	held sync.Map // goroutine id -> struct{}
}

// Held reports whether the calling goroutine holds the guard.
func (g *Guard) Held() bool {
	_, ok := g.held.Load(goid.Get())
	return ok
}

// Acquire sets the flag for the calling goroutine.
// It returns false, without changing anything, if the flag was already set.
func (g *Guard) Acquire() bool {
	_, loaded := g.held.LoadOrStore(goid.Get(), struct{}{})
	return !loaded
}

// Release clears the flag for the calling goroutine.
func (g *Guard) Release() {
	g.held.Delete(goid.Get())
}
