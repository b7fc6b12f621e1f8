// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pool provides an indexed fork-join worker pool.
package pool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Run calls fn for each index in [0, n) using at most workers concurrent
// goroutines. If workers is less than one, runtime.GOMAXPROCS(0) is used.
// Callers collect results by writing to the slot for the index passed to
// fn. Run returns the error from the lowest index that failed, after all
// started calls have returned. Once any call fails, no further indexes
// are started.
func Run(n, workers int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, n)
	if workers == 1 {
		for i := range n {
			err := fn(i)
			if err != nil {
				return err
			}
		}
		return nil
	}

	var (
		next   atomic.Int64
		failed atomic.Bool
		errs   = make([]error, n)
		wg     sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !failed.Load() {
				i := int(next.Add(1) - 1)
				if i >= n {
					return
				}
				errs[i] = fn(i)
				if errs[i] != nil {
					failed.Store(true)
				}
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
