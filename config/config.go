// Package config defines the core's configuration struct (§6). The
// embedding binary builds one from flag.* the way the teacher's
// cmd/spilld/main.go builds its settings — this package only holds
// the struct and its defaults, not a flag-parsing entry point.
package config

// Config holds every option the core recognizes.
type Config struct {
	DBPath                string
	BlobMinSize           int64
	MaxObjectsInSet       int
	MaxConcurrentRequests int
	MailboxMaxDepth       int
	MailboxMaxTotal       int
	MailImportMaxItems    int

	// AccountDBPath, if set, opens the teacher's spilldb/db SQL account
	// store (bcrypt password hashes, device auth) as the system of
	// record for which account ids exist. Left empty, Store skips
	// account-existence checks entirely — useful for tests and tools
	// that only exercise the document store.
	AccountDBPath string
}

// Default returns a Config with the same defaults the original_source
// implementation ships (components/jmap_mail/src/mailbox.rs for the
// mailbox limits), scaled down only where the source value was tied
// to a deployment-specific path.
func Default() Config {
	return Config{
		DBPath:                "./mailcore-data",
		BlobMinSize:           512,
		MaxObjectsInSet:       500,
		MaxConcurrentRequests: 4,
		MailboxMaxDepth:       10,
		MailboxMaxTotal:       1000,
		MailImportMaxItems:    10,
	}
}
