// Package cli provides the interactive tourkeeper command-line client.
//
// It wires configuration, local storage, the sync core (entity store,
// operation queue, connectivity monitor, sync driver) and an interactive
// REPL. Every edit is applied locally first and queued for the server, so
// the client keeps working while the server is unreachable.
//
// Key features:
//   - Add / Set / Delete shows, List / Show them
//   - Inspect the queue, retry or discard failed operations
//   - Force a sync pass or a pull of remote changes
//   - Switch to offline mode manually
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
