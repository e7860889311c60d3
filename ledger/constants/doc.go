// Package constant provides shared constant values used across the ledger packages.
//
// Keep this package free of runtime behavior.
package constant
