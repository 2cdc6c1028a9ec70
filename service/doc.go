// Package service is the single write entry point of the engine.
//
// Each symbol is owned by one worker goroutine that validates, sequences,
// logs and matches its commands one at a time. A command is acknowledged
// only after it is in the command log and its events are in the outbox,
// so every acknowledged effect survives a crash. Symbols share nothing
// mutable, so a halted symbol never stalls the others.
//
// Transports (gRPC, Kafka, HTTP) call OrderService and never touch the
// domain packages directly.
package service
