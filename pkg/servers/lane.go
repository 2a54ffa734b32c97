// Copyright 2025 The Steward Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package servers

import (
	"context"
	"sync"

	"github.com/stewardai/steward/pkg/tool"
)

// lane is the dedicated execution lane for servers whose asynchronous
// work must not run on the ambient scheduling context. All calls to
// such servers execute on one long-lived goroutine; chunks are bridged
// back to the caller over a channel. Callers see the same dispatch
// surface either way.
type lane struct {
	jobs chan func()

	once sync.Once
	quit chan struct{}
	done chan struct{}
}

func newLane() *lane {
	l := &lane{
		jobs: make(chan func()),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *lane) loop() {
	defer close(l.done)
	for {
		select {
		case job := <-l.jobs:
			job()
		case <-l.quit:
			return
		}
	}
}

// run executes fn on the lane goroutine, forwarding each emitted chunk
// to yield on the caller's side. The stream ends when fn returns or the
// caller stops consuming.
func (l *lane) run(ctx context.Context, fn func(emit func(*tool.Chunk) bool), yield func(*tool.Chunk, error) bool) {
	chunks := make(chan *tool.Chunk)
	stop := make(chan struct{})
	finished := make(chan struct{})

	job := func() {
		defer close(finished)
		fn(func(c *tool.Chunk) bool {
			select {
			case chunks <- c:
				return true
			case <-stop:
				return false
			}
		})
	}

	select {
	case l.jobs <- job:
	case <-l.quit:
		yield(tool.Errorf(tool.CategoryServerDegraded, "execution lane stopped"), nil)
		return
	case <-ctx.Done():
		yield(tool.Errorf(tool.CategoryTimeout, "waiting for execution lane: %v", ctx.Err()), nil)
		return
	}

	defer close(stop)
	for {
		select {
		case c := <-chunks:
			if !yield(c, nil) {
				return
			}
			if c.Terminal() {
				return
			}
		case <-finished:
			// fn returned without a terminal chunk; drain nothing more.
			return
		}
	}
}

func (l *lane) stop() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}
