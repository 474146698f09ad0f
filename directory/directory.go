// Package directory defines the read-only relay enumeration surface the
// heartbeat oracle consumes from the registry.
package directory

import "github.com/relaypulse/relaypulse/common"

// Directory enumerates registered relays. The ledger's public index
// implements it; a production deployment may back it with a remote
// registry instead.
type Directory interface {
	RelayCount() int
	RelayAt(i int) (common.Address, bool)
	RelayURL(addr common.Address) (string, bool)
}

// Entry is one relay as seen by the oracle: identity plus endpoint.
type Entry struct {
	Address common.Address
	URL     string
}

// DefaultPageSize bounds one directory read.
const DefaultPageSize = 256

// Enumerate reads the full directory in pages of pageSize, so the set
// never has to fit one call. Entries whose slot was vacated mid-scan
// (a concurrent leave swaps the array) are simply skipped; the next
// cycle sees a fresh view.
func Enumerate(d Directory, pageSize int) []Entry {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var entries []Entry
	for offset := 0; ; offset += pageSize {
		n := d.RelayCount()
		if offset >= n {
			break
		}
		end := offset + pageSize
		if end > n {
			end = n
		}
		for i := offset; i < end; i++ {
			addr, ok := d.RelayAt(i)
			if !ok {
				continue
			}
			url, ok := d.RelayURL(addr)
			if !ok {
				continue
			}
			entries = append(entries, Entry{Address: addr, URL: url})
		}
	}
	return entries
}
