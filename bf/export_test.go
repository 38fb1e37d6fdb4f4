package bf

import "testing"

// SetMaxCount lowers the Collapse run cap for the duration of a test.
func SetMaxCount(t testing.TB, n uint32) {
	old := maxCount
	maxCount = n
	t.Cleanup(func() { maxCount = old })
}
