// Package database provides the SQLite store behind the node's local state.
//
// The database holds three things that must survive a reboot:
//   - the last applied desired-property version and the targets it set
//   - a log of received commands and the responses sent
//   - emulated secure-element slots (provisioning ID scope and friends)
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are forward-only and embedded by the migrations package.
// The file permissions are set to 0600 because the slots table may hold
// provisioning material.
package database
