// Package version holds the build version, set with -ldflags.
package version

// Version is overridden at build time: -ldflags "-X vodscribe/internal/version.Version=1.2.3"
var Version = "0.1.0-dev"
