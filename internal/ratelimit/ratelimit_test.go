// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package ratelimit

import (
	"context"
	"testing"
	"time"

	"go.astrophena.name/wallbot/internal/testutil"
)

func TestMemory(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(2 * time.Second)
	m.now = func() time.Time { return now }

	ctx := context.Background()

	allowed, err := m.Allow(ctx, "1")
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, allowed, true)

	// Within the interval.
	now = now.Add(time.Second)
	allowed, err = m.Allow(ctx, "1")
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, allowed, false)

	// A different key is not throttled.
	allowed, err = m.Allow(ctx, "2")
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, allowed, true)

	// After the interval has passed.
	now = now.Add(2 * time.Second)
	allowed, err = m.Allow(ctx, "1")
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, allowed, true)
}
