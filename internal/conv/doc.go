// Package conv provides checked integer narrowing for lengths and ids that
// cross a width boundary, such as slice lengths stored as uint32 point ids
// or counts decoded from a capture header.
package conv
