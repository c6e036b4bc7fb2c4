package encryption

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// DefaultRefreshInterval is how often keysets are reloaded to pick up
// rotation.
const DefaultRefreshInterval = 15 * time.Minute

type loader func(ctx context.Context) (tink.AEAD, error)

// RefreshableAEAD delegates to an AEAD that is periodically reloaded from its
// source, so keys can be rotated without a restart. A failed reload is logged
// and the current AEAD stays in use.
type RefreshableAEAD struct {
	mu      sync.RWMutex
	current tink.AEAD
	load    loader

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRefreshableAEAD loads a KMS-protected keyset from Secrets Manager.
func NewRefreshableAEAD(ctx context.Context, keysetURI, kmsEnvelopeKeyURI string) (*RefreshableAEAD, error) {
	return newRefreshableAEAD(ctx, func(ctx context.Context) (tink.AEAD, error) {
		return NewAEADFromKMS(ctx, keysetURI, kmsEnvelopeKeyURI)
	}, DefaultRefreshInterval)
}

// NewRefreshableAEADFromFile loads a cleartext keyset file.
func NewRefreshableAEADFromFile(ctx context.Context, path string) (*RefreshableAEAD, error) {
	return newRefreshableAEAD(ctx, func(context.Context) (tink.AEAD, error) {
		return NewAEADFromFile(path)
	}, DefaultRefreshInterval)
}

// newRefreshableAEAD loads synchronously and only starts the refresh loop
// once the first load succeeds.
func newRefreshableAEAD(ctx context.Context, load loader, interval time.Duration) (*RefreshableAEAD, error) {
	initial, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading initial AEAD: %w", err)
	}

	r := &RefreshableAEAD{
		current: initial,
		load:    load,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go r.loop(context.WithoutCancel(ctx), interval)

	return r, nil
}

func (r *RefreshableAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Encrypt(plaintext, associatedData)
}

func (r *RefreshableAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Decrypt(ciphertext, associatedData)
}

// Close stops the refresh loop and waits for it to exit. It is safe to call
// more than once.
func (r *RefreshableAEAD) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	return nil
}

func (r *RefreshableAEAD) loop(ctx context.Context, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reload(ctx)
		}
	}
}

func (r *RefreshableAEAD) reload(ctx context.Context) {
	next, err := r.load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("encryption keyset reload failed, keeping current keyset")
		return
	}

	r.mu.Lock()
	r.current = next
	r.mu.Unlock()

	log.Debug().Msg("encryption keyset reloaded")
}
