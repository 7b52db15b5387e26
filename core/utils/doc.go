// Package utils provides conversion helpers for the loosely typed JSON produced by
// LMS database triggers (numbers as strings, integer-encoded IPv4 addresses).
package utils
