// Package config centralizes the small set of defaults the rest of
// this module needs when the (out-of-scope) daemon configuration
// loader has not supplied anything — it is a struct of defaults, not
// a config-file parser.
package config

import "time"

// Defaults mirrors the constants the source hard-codes in a handful
// of places (bucket size, alive window, bucket count ceiling) so that
// every component can be constructed and tested independently of the
// external daemon configuration surface.
type Defaults struct {
	// ListenAddr is the UDP address the DHT manager binds by default.
	// "127.0.0.1:0" matches spec.md §6: a public endpoint must be
	// configured explicitly to get anything else.
	ListenAddr string

	// BucketSize is Kademlia's k.
	BucketSize int

	// BucketCount is the soft upper bound on routing-table depth
	// (77 in the source; id space is 512 bits so 8*64=512 would be
	// the hard ceiling).
	BucketCount int

	// AliveWindow is T_alive: a node not refreshed within this window
	// is presumed dead and is the first target of liveness probing.
	AliveWindow time.Duration

	// UploadJournalPath and DownloadJournalPath are the append-only
	// task journals that replace the source's per-directory taskinfo
	// files (see SPEC_FULL.md §3/§6).
	UploadJournalPath   string
	DownloadJournalPath string

	// KVStorePath is the directory the pebble-backed local store
	// opens under.
	KVStorePath string
}

// Default returns the defaults used when no configuration is supplied.
func Default() Defaults {
	return Defaults{
		ListenAddr:          "127.0.0.1:0",
		BucketSize:          20,
		BucketCount:         77,
		AliveWindow:         60 * time.Second,
		UploadJournalPath:   "uploads.journal",
		DownloadJournalPath: "downloads.journal",
		KVStorePath:         "dht-data",
	}
}
