// Package preflight checks that a knowledge base directory is usable.
//
// The checks cover the data directory (writable, enough free space), the
// store database (SQLite integrity, full-text index in step with the
// records) and leftovers of earlier runs (interrupted imports, a held
// import lock). `amankb doctor` runs them all:
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, preflight.Target{DataDir: dir, Store: st})
//	if checker.HasCriticalFailures(results) {
//	    // refuse to continue
//	}
package preflight
