/*
Copyright 2026 jr42.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package netnsutil brackets function calls with scoped network-namespace
// entry and exit.
package netnsutil

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netns"
)

// Do runs fn inside the target network namespace and restores the calling
// thread's namespace on every exit path. A target of netns.None(), which is
// also what a closed handle holds, means "stay where we are" and runs fn
// directly.
func Do(target netns.NsHandle, fn func() error) error {
	if target == netns.None() {
		return fn()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return fmt.Errorf("failed to capture the current network namespace: %w", err)
	}
	defer func() { _ = origin.Close() }()

	if err := netns.Set(target); err != nil {
		return fmt.Errorf("failed to enter network namespace: %w", err)
	}
	defer func() { _ = netns.Set(origin) }()

	return fn()
}
