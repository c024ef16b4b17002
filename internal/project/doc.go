// Package project stores the product a founder is building.
//
// A project is created when an interview is submitted and carries the
// interview and the latest blueprint. Writes are last-write-wins.
package project
