package vault

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Config carries the tunables for one vault installation.
type Config struct {
	// Path of the encrypted container file.
	Path string

	// KDFIterations for PBKDF2. Zero means the default (200k).
	KDFIterations int

	// LockoutThreshold is the number of consecutive failed unlocks that
	// starts the cooldown. Zero means the default of 5.
	LockoutThreshold int

	// CooldownBase is the first cooldown window; it doubles with every
	// further failure. Zero means 30s.
	CooldownBase time.Duration

	// AutoRelock is how long an unlock lasts before the vault relocks on
	// its own. Zero means 15m.
	AutoRelock time.Duration
}

func (c *Config) applyDefaults() {
	if c.KDFIterations <= 0 {
		c.KDFIterations = defaultKDFIterations
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = 30 * time.Second
	}
	if c.AutoRelock <= 0 {
		c.AutoRelock = 15 * time.Minute
	}
}

// Status is a safe-to-display snapshot of the vault's session state.
type Status struct {
	Initialized   bool
	Unlocked      bool
	UnlockedAt    time.Time
	RelockAt      time.Time
	FailedUnlocks int
	CooldownUntil time.Time
}

// VersionInfo describes one archived revision of a secret. Values are not
// included; use Restore to bring a revision back.
type VersionInfo struct {
	Index     int
	Timestamp time.Time
}

// Vault is an encrypted, PIN-gated secret store. The derived key is held in
// memory while unlocked; decrypted entries are never cached past the single
// operation that needed them.
//
// Unlock state is shared-read/single-writer: Unlock, Lock and RotateKey take
// the write lock, everything else reads under the read lock so a rotate can
// never be observed half-applied.
type Vault struct {
	cfg Config

	mu  sync.RWMutex
	key []byte

	unlocked   bool
	unlockedAt time.Time
	relockAt   time.Time

	failedUnlocks int
	cooldownUntil time.Time

	now func() time.Time
}

func New(cfg Config) (*Vault, error) {
	cfg.applyDefaults()
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("missing vault path")
	}
	return &Vault{cfg: cfg, now: time.Now}, nil
}

var pinRe = regexp.MustCompile(`^[0-9]{5,6}$`)

func validatePIN(pin string) error {
	if !pinRe.MatchString(pin) {
		return ErrInvalidPIN
	}
	return nil
}

// Unlock derives the key from pin and proves it against the container. A
// missing container is initialized empty under the given PIN. Failed
// attempts count toward the lockout policy; once the threshold is reached
// every further attempt inside the cooldown window fails immediately,
// without running the key derivation.
func (v *Vault) Unlock(pin string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if now.Before(v.cooldownUntil) {
		return fmt.Errorf("%w (retry after %s)", ErrCooldownActive, v.cooldownUntil.Sub(now).Round(time.Second))
	}

	if _, err := os.Stat(v.cfg.Path); errors.Is(err, os.ErrNotExist) {
		if err := validatePIN(pin); err != nil {
			return err
		}
		salt, err := newSalt()
		if err != nil {
			return err
		}
		key := deriveKey(pin, salt, v.cfg.KDFIterations)
		if err := v.saveLocked(key, salt, newContainer()); err != nil {
			wipe(key)
			return err
		}
		v.adoptKeyLocked(key, now)
		return nil
	}

	cf, err := readContainerFile(v.cfg.Path)
	if err != nil {
		return err
	}
	key := deriveKey(pin, cf.KDF.Salt, cf.KDF.Iterations)
	if _, err := open(key, cf.Nonce, cf.Ciphertext); err != nil {
		wipe(key)
		v.failedUnlocks++
		if v.failedUnlocks >= v.cfg.LockoutThreshold {
			shift := uint(v.failedUnlocks - v.cfg.LockoutThreshold)
			if shift > 10 {
				shift = 10
			}
			v.cooldownUntil = now.Add(v.cfg.CooldownBase << shift)
		}
		return ErrWrongPIN
	}
	v.adoptKeyLocked(key, now)
	return nil
}

func (v *Vault) adoptKeyLocked(key []byte, now time.Time) {
	if v.key != nil {
		wipe(v.key)
	}
	v.key = key
	v.unlocked = true
	v.unlockedAt = now
	v.relockAt = now.Add(v.cfg.AutoRelock)
	v.failedUnlocks = 0
	v.cooldownUntil = time.Time{}
}

// Lock wipes the key material. Any in-flight assumption from a previous
// unlock is void after this returns.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockLocked()
}

func (v *Vault) lockLocked() {
	if v.key != nil {
		wipe(v.key)
	}
	v.key = nil
	v.unlocked = false
	v.unlockedAt = time.Time{}
	v.relockAt = time.Time{}
}

// Get decrypts the container and returns the current value of name for a
// single use. Nothing decrypted outlives the call.
func (v *Vault) Get(name string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, _, err := v.loadLocked()
	if err != nil {
		return "", err
	}
	e, ok := c.Entries[name]
	if !ok || e.Deleted || e.Current == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.Current.Value, nil
}

// GetArchived returns an archived revision by index (0 is the most recently
// archived).
func (v *Vault) GetArchived(name string, version int) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, _, err := v.loadLocked()
	if err != nil {
		return "", err
	}
	e, ok := c.Entries[name]
	if !ok || version < 0 || version >= len(e.Archive) {
		return "", fmt.Errorf("%w: %s (version %d)", ErrNotFound, name, version)
	}
	return e.Archive[version].Value, nil
}

// Put stores value under name. An existing current value is pushed onto the
// entry's archive rather than overwritten, so it stays restorable.
func (v *Vault) Put(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("secret name must be non-empty")
	}
	if value == "" {
		return fmt.Errorf("secret value must be non-empty")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	c, cf, err := v.loadLocked()
	if err != nil {
		return err
	}

	now := v.now().UTC()
	e := c.Entries[name]
	if e == nil {
		e = &entry{CreatedAt: now}
		c.Entries[name] = e
	}
	if e.Current != nil {
		e.Archive = append([]revision{*e.Current}, e.Archive...)
	}
	e.Current = &revision{Value: value, Timestamp: now}
	e.RotatedAt = now
	e.Deleted = false
	e.DeletedAt = nil

	return v.saveLocked(v.key, cf.KDF.Salt, c)
}

// Delete removes name. By default the entry is tombstoned and its archive
// kept for Restore; eraseHistory drops everything.
func (v *Vault) Delete(name string, eraseHistory bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, cf, err := v.loadLocked()
	if err != nil {
		return err
	}
	e, ok := c.Entries[name]
	if !ok || (e.Deleted && !eraseHistory) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if eraseHistory {
		delete(c.Entries, name)
	} else {
		now := v.now().UTC()
		if e.Current != nil {
			e.Archive = append([]revision{*e.Current}, e.Archive...)
			e.Current = nil
		}
		e.Deleted = true
		e.DeletedAt = &now
	}
	return v.saveLocked(v.key, cf.KDF.Salt, c)
}

// Restore makes archive revision version the current value again. The value
// being replaced, if any, moves to the front of the archive.
func (v *Vault) Restore(name string, version int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, cf, err := v.loadLocked()
	if err != nil {
		return err
	}
	e, ok := c.Entries[name]
	if !ok || version < 0 || version >= len(e.Archive) {
		return fmt.Errorf("%w: %s (version %d)", ErrNotFound, name, version)
	}

	now := v.now().UTC()
	restored := e.Archive[version]
	e.Archive = append(e.Archive[:version], e.Archive[version+1:]...)
	if e.Current != nil {
		e.Archive = append([]revision{*e.Current}, e.Archive...)
	}
	e.Current = &revision{Value: restored.Value, Timestamp: now}
	e.RotatedAt = now
	e.Deleted = false
	e.DeletedAt = nil

	return v.saveLocked(v.key, cf.KDF.Salt, c)
}

// History lists the archived revisions of name, newest first. Values are
// deliberately not returned.
func (v *Vault) History(name string) ([]VersionInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, _, err := v.loadLocked()
	if err != nil {
		return nil, err
	}
	e, ok := c.Entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	out := make([]VersionInfo, 0, len(e.Archive))
	for i, rev := range e.Archive {
		out = append(out, VersionInfo{Index: i, Timestamp: rev.Timestamp})
	}
	return out, nil
}

// List returns the names of all live entries.
func (v *Vault) List() ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, _, err := v.loadLocked()
	if err != nil {
		return nil, err
	}
	var names []string
	for name, e := range c.Entries {
		if e.Deleted {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// RotateKey re-encrypts the container under a key derived from newPIN with
// a fresh salt. Requires an unlocked vault; concurrent Gets are excluded
// for the duration so they never observe a half-rotated key.
func (v *Vault) RotateKey(newPIN string) error {
	if err := validatePIN(newPIN); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	c, _, err := v.loadLocked()
	if err != nil {
		return err
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}
	key := deriveKey(newPIN, salt, v.cfg.KDFIterations)
	if err := v.saveLocked(key, salt, c); err != nil {
		wipe(key)
		return err
	}
	v.adoptKeyLocked(key, v.now())
	return nil
}

// Status reports session state without touching any ciphertext.
func (v *Vault) Status() Status {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, statErr := os.Stat(v.cfg.Path)
	return Status{
		Initialized:   statErr == nil,
		Unlocked:      v.unlockedNowLocked(),
		UnlockedAt:    v.unlockedAt,
		RelockAt:      v.relockAt,
		FailedUnlocks: v.failedUnlocks,
		CooldownUntil: v.cooldownUntil,
	}
}

// Unlocked reports whether the vault is currently usable, honoring the
// auto-relock deadline.
func (v *Vault) Unlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.unlockedNowLocked()
}

func (v *Vault) unlockedNowLocked() bool {
	return v.unlocked && v.now().Before(v.relockAt)
}

// loadLocked decrypts the container under the session key. Caller holds at
// least the read lock.
func (v *Vault) loadLocked() (*container, *containerFile, error) {
	if !v.unlockedNowLocked() {
		return nil, nil, ErrVaultLocked
	}
	cf, err := readContainerFile(v.cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	plain, err := open(v.key, cf.Nonce, cf.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt vault container: %w", err)
	}
	defer wipe(plain)

	c := newContainer()
	if err := unmarshalContainer(plain, c); err != nil {
		return nil, nil, err
	}
	return c, cf, nil
}

// saveLocked encrypts c under key with a fresh nonce and writes the
// container atomically. Caller holds the write lock.
func (v *Vault) saveLocked(key, salt []byte, c *container) error {
	plain, err := marshalContainer(c)
	if err != nil {
		return err
	}
	defer wipe(plain)

	nonce, ciphertext, err := seal(key, plain)
	if err != nil {
		return err
	}
	cf := &containerFile{
		Version: containerVersion,
		KDF: kdfRef{
			Algo:       "pbkdf2-sha256",
			Iterations: v.cfg.KDFIterations,
			Salt:       salt,
		},
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	return writeContainerFile(v.cfg.Path, cf)
}
