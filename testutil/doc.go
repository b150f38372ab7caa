// Package testutil starts conduit components for tests and stops them when
// the test ends.
//
//	func TestPreview(t *testing.T) {
//	    store := testutil.OpenStore(t)
//	    ...
//	}
package testutil
