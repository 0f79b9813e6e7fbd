// Package storage persists the set of announced items.
//
// Every backend follows the same overwrite-on-write contract: Save replaces the
// whole stored set with the records it is given, Load returns the last saved set.
// Drivers:
//   - "file": JSON array, rewritten through a temp file + rename (default)
//   - "sqlite": single table, rewritten inside one transaction
//   - "bolt": single bucket, recreated inside one transaction
package storage
