// Package logx is farebot's structured logging on zerolog.
//
// Logger is a small value type; the zero value is safe and drops
// everything. Service owns the sinks: a readable console writer, a JSON
// file, and an optional operator chat that only sees lines at or above a
// minimum level, rate limited so a failing cycle cannot flood it.
package logx
