// Package textutil provides filename sanitization for user-supplied names
// that end up as path segments on disk.
package textutil
