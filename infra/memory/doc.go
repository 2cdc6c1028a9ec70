// Package memory recycles hot objects. The matching workers return every
// order that leaves the book for good, so steady-state order flow does not
// allocate.
package memory
