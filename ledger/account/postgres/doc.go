// Package postgres implements account.Store on PostgreSQL.
//
// Sessions run on the primary pool at READ COMMITTED. The conditional
// decrement is a single UPDATE guarded by balance >= amount, so the row lock
// it takes serializes concurrent transfers touching the same account. Reads
// through the Reader methods go to the replica pool.
package postgres
