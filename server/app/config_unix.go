//go:build !windows
// +build !windows

package app

// fallbackDataDir is used when the daemon cannot resolve a home directory.
const fallbackDataDir = "/var/lib/yerba"
