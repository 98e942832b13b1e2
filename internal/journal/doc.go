// Package journal persists terminal Session outcomes and engine diagnostics
// to SQLite so they can be listed after the fact.
//
// The engine calls its observers synchronously from MQTT callbacks, so
// Writer only queues records; Run drains the queue into the Repository.
// When the queue is full new records are dropped and counted rather than
// blocking message routing.
package journal
