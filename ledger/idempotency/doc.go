// Package idempotency makes a transfer request with an idempotency key run at
// most once. The redis Guard claims a key with SET NX before the transfer
// begins and overwrites the claim with the final state afterwards.
package idempotency
