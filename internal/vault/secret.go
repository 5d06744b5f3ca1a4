package vault

import (
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
)

// MinMlockLimitKB is the locked-memory limit below which secrets fall back to
// ordinary heap buffers. memguard panics when mlock fails, so the limit is
// probed once up front.
const MinMlockLimitKB = 64

// InsecureMemoryEnv forces heap buffers even when mlock is available.
const InsecureMemoryEnv = "CANVASGATE_INSECURE_MEMORY"

var (
	memoryOnce   sync.Once
	secureMemory bool
)

// SecureMemory reports whether plaintext secrets live in mlocked memory.
func SecureMemory() bool {
	memoryOnce.Do(func() {
		if os.Getenv(InsecureMemoryEnv) == "true" {
			slog.Warn("secure memory disabled by environment", "env", InsecureMemoryEnv)
			return
		}
		ok, limitKB := mlockSufficient(MinMlockLimitKB)
		secureMemory = ok
		if ok {
			slog.Debug("secure memory enabled", "mlock_limit_kb", limitKB)
		} else {
			slog.Warn("mlock limit too low, secrets use heap memory",
				"mlock_limit_kb", limitKB, "required_kb", MinMlockLimitKB)
		}
	})
	return secureMemory
}

// Purge wipes every memguard-managed buffer. Call on shutdown.
func Purge() {
	if SecureMemory() {
		memguard.Purge()
	}
}

// Secret is a transient plaintext credential. It is scoped to one request
// and must be destroyed by the caller once the upstream call returns.
type Secret struct {
	mu     sync.Mutex
	locked *memguard.LockedBuffer
	heap   []byte
}

// NewSecret moves b into a Secret. b is wiped.
func NewSecret(b []byte) *Secret {
	s := &Secret{}
	if len(b) == 0 {
		return s
	}
	if SecureMemory() {
		s.locked = memguard.NewBufferFromBytes(b)
		return s
	}
	s.heap = make([]byte, len(b))
	copy(s.heap, b)
	wipe(b)
	return s
}

// Reveal returns the plaintext. The result is a Go string and cannot be
// wiped, so it must not outlive the call it is passed to.
func (s *Secret) Reveal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked != nil {
		return string(s.locked.Bytes())
	}
	return string(s.heap)
}

// Len returns the plaintext length in bytes.
func (s *Secret) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked != nil {
		return s.locked.Size()
	}
	return len(s.heap)
}

// Destroy wipes the plaintext. Safe to call more than once.
func (s *Secret) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked != nil {
		s.locked.Destroy()
		s.locked = nil
	}
	wipe(s.heap)
	s.heap = nil
}

// String keeps secrets out of fmt and log output.
func (s *Secret) String() string { return "[REDACTED]" }

// LogValue keeps secrets out of slog output.
func (s *Secret) LogValue() slog.Value { return slog.StringValue("[REDACTED]") }

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// fallbackKey holds a process-wide credential from deployment configuration.
// In secure mode it is sealed in a memguard enclave between uses.
type fallbackKey struct {
	enclave *memguard.Enclave
	heap    []byte
}

func newFallbackKey(key string) *fallbackKey {
	b := []byte(key)
	if SecureMemory() {
		return &fallbackKey{enclave: memguard.NewEnclave(b)}
	}
	return &fallbackKey{heap: b}
}

// open returns a fresh Secret holding the key.
func (f *fallbackKey) open() (*Secret, error) {
	if f.enclave == nil {
		b := make([]byte, len(f.heap))
		copy(b, f.heap)
		return NewSecret(b), nil
	}
	buf, err := f.enclave.Open()
	if err != nil {
		return nil, err
	}
	return &Secret{locked: buf}, nil
}
