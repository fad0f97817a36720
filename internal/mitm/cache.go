package mitm

import (
	"crypto/tls"
	"sort"
	"strings"
	"sync"
	"time"
)

// Storage persists generated leaf certificates, keyed by a sorted-hostname
// key, so repeated interception of the same authority does not re-sign on
// every connection. Grounded on
// examples/goproxy-certstorage/{storage.go,optimized_storage.go}.
type Storage interface {
	Fetch(key string, gen func() (*tls.Certificate, error)) (*tls.Certificate, error)
}

type expiringEntry struct {
	cert      *tls.Certificate
	expiresAt time.Time
}

// MemStorage is the default in-memory Storage, evicting entries after TTL.
// Grounded on cached_signer.go's ExpiringCertMap.
type MemStorage struct {
	ttl  time.Duration
	data sync.Map
}

func NewMemStorage(ttl time.Duration) *MemStorage {
	return &MemStorage{ttl: ttl}
}

func (m *MemStorage) Fetch(key string, gen func() (*tls.Certificate, error)) (*tls.Certificate, error) {
	if v, ok := m.data.Load(key); ok {
		entry := v.(expiringEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.cert, nil
		}
		m.data.Delete(key)
	}
	cert, err := gen()
	if err != nil {
		return nil, err
	}
	m.data.Store(key, expiringEntry{cert: cert, expiresAt: time.Now().Add(m.ttl)})
	return cert, nil
}

// CachedSigner signs leaf certificates under ca, caching results in
// storage keyed by the sorted hostname list. Grounded on
// cached_signer.go's cachedSigner.
type CachedSigner struct {
	CA      CA
	Storage Storage
	mu      sync.Mutex
}

func NewCachedSigner(ca CA, storage Storage) *CachedSigner {
	if storage == nil {
		storage = NewMemStorage(10 * time.Minute)
	}
	return &CachedSigner{CA: ca, Storage: storage}
}

func (s *CachedSigner) SignHost(hosts []string) (*tls.Certificate, error) {
	sorted := append([]string{}, hosts...)
	sort.Strings(sorted)
	key := strings.Join(sorted, ";")

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Storage.Fetch(key, func() (*tls.Certificate, error) {
		return SignHost(s.CA, hosts)
	})
}
