// Package refresh tracks the components interested in cross-cutting refresh
// triggers (theme, palette, settings) and fans a trigger out to all of them.
package refresh
