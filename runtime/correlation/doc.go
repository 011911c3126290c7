// Package correlation maps opaque request identifiers to one-shot handles on
// which suspended callers wait for a decision.
package correlation
