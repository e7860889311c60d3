// Package reconciliation surfaces transfers whose withdrawal was committed
// without the matching deposit. Such a transfer has moved money out of the
// source account only, so every one must reach an external reconciliation
// process.
//
// LogNotifier writes a warning through the ledger logger. Publisher sends a
// persistent JSON message to RabbitMQ with publisher confirms and W3C trace
// headers.
package reconciliation
