// Package log defines the logging interface and typed logging fields used by
// every ledger package.
//
// Adapters (such as the zap package) implement Logger so transfer code keeps
// logging calls consistent across backends.
package log
