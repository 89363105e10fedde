// Package supervisor wires every component of the bridge together and
// owns its startup/shutdown lifecycle: construction order, background
// task start, and ordered teardown. There is no subprocess to manage,
// only goroutines.
package supervisor
