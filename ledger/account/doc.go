// Package account declares the storage boundary for balances and the audit
// trail. A Session is one store transaction with implicit commit disabled;
// its primitives are the only way a balance changes.
//
// Implementations live in account/postgres and account/memory.
package account
