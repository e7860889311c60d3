// Package executor performs the balance and audit steps of a transfer inside
// a caller-supplied unit of work. It never begins, commits or rolls back.
package executor
