// Package ir provides the plain value and event types that cross the
// host/script boundary.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the boundary types the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Only plain values cross into scripts (null, string, int, float, bool,
//     array, object) plus opaque callback handles. Live host objects never do.
//   - Event categories are stable string keys fixed at registry build time.
//   - All JSON tags use snake_case.
//   - Ticks (logical host time) only, never wall-clock timestamps.
package ir
