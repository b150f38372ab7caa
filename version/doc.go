// Package version reports the build of the conduit binary.
//
//	go build -ldflags "-X github.com/kbukum/conduit/version.Version=1.0.0"
package version
