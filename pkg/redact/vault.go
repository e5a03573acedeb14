package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"
	"time"
)

// placeholderRe matches the opaque placeholder syntax.
var placeholderRe = regexp.MustCompile(`\[REDACTED:(credential|pii|financial|custom):([0-9a-f]{8,12})\]`)

// Placeholder renders the opaque token for a vaulted value.
func Placeholder(cat Category, hash string) string {
	return "[REDACTED:" + string(cat) + ":" + hash + "]"
}

type vaultEntry struct {
	original  string
	category  Category
	storedAt  time.Time
	expiresAt time.Time
}

// Vault is the in-memory, bounded-TTL resolver mapping placeholder hashes
// back to original values. Keys are the first 8 hex chars of
// SHA-256(value), extended to 12 on collision. The vault never persists:
// Close clears every entry.
type Vault struct {
	mu      sync.Mutex
	entries map[string]vaultEntry
	ttl     time.Duration
	stop    chan struct{}
	done    chan struct{}
	now     func() time.Time
}

// NewVault creates a vault whose entries live for ttl (default 1 hour)
// and starts the periodic eviction sweep.
func NewVault(ttl, sweepEvery time.Duration) *Vault {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	v := &Vault{
		entries: make(map[string]vaultEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go v.sweep(sweepEvery)
	return v
}

// Store vaults a value and returns its placeholder hash. Storing the same
// value twice returns the existing hash atomically.
func (v *Vault) Store(value string, cat Category) string {
	sum := sha256.Sum256([]byte(value))
	full := hex.EncodeToString(sum[:])
	key := full[:8]

	v.mu.Lock()
	defer v.mu.Unlock()

	if e, ok := v.entries[key]; ok {
		if e.original == value {
			return key
		}
		// Collision on the short prefix: extend to 12 chars.
		key = full[:12]
		if e, ok := v.entries[key]; ok && e.original == value {
			return key
		}
	}

	now := v.now()
	v.entries[key] = vaultEntry{
		original:  value,
		category:  cat,
		storedAt:  now,
		expiresAt: now.Add(v.ttl),
	}
	return key
}

// Resolve returns the original value for a hash if present and unexpired.
func (v *Vault) Resolve(hash string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[hash]
	if !ok || v.now().After(e.expiresAt) {
		return "", false
	}
	return e.original, true
}

// ResolveAll substitutes every resolvable placeholder in text and returns
// the hashes that could not be resolved.
func (v *Vault) ResolveAll(text string) (string, []string) {
	var unresolved []string
	out := placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		if original, ok := v.Resolve(sub[2]); ok {
			return original
		}
		unresolved = append(unresolved, sub[2])
		return m
	})
	return out, unresolved
}

// Len reports the number of live entries.
func (v *Vault) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// Close stops the eviction sweep and clears every entry; secrets never
// outlive the process.
func (v *Vault) Close() {
	close(v.stop)
	<-v.done
	v.mu.Lock()
	v.entries = make(map[string]vaultEntry)
	v.mu.Unlock()
}

func (v *Vault) sweep(every time.Duration) {
	defer close(v.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-v.stop:
			return
		case <-t.C:
			v.evictExpired()
		}
	}
}

func (v *Vault) evictExpired() {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	for k, e := range v.entries {
		if now.After(e.expiresAt) {
			delete(v.entries, k)
		}
	}
}
