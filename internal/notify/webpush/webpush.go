// Package webpush delivers encrypted Web Push messages signed with VAPID keys.
package webpush

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

// ErrInvalidKeys reports a missing or malformed VAPID key pair.
var ErrInvalidKeys = errors.New("invalid vapid keys")

// Config holds the VAPID identity and delivery options.
type Config struct {
	PublicKey  string
	PrivateKey string
	// Subscriber is the contact (mailto: or https:) sent in the VAPID claim.
	Subscriber string
	TTL        time.Duration
	Urgency    string
	Timeout    time.Duration
}

// Sender pushes payloads to browser push services.
type Sender struct {
	cfg    Config
	client *http.Client
}

// New validates the key pair and returns a Sender. Errors wrap ErrInvalidKeys
// when the keys cannot be used.
func New(cfg Config, client *http.Client) (*Sender, error) {
	if err := ValidateKeys(cfg.PublicKey, cfg.PrivateKey); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Subscriber) == "" {
		return nil, fmt.Errorf("vapid subscriber is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Urgency == "" {
		cfg.Urgency = string(webpush.UrgencyNormal)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Sender{cfg: cfg, client: client}, nil
}

// PublicKey returns the application server key browsers subscribe with.
func (s *Sender) PublicKey() string {
	return s.cfg.PublicKey
}

// Send encrypts payload for the subscription and posts it to its endpoint.
// Any non-2xx answer from the push service is an error.
func (s *Sender) Send(ctx context.Context, sub permit.Subscription, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.AuthKeys.Auth,
			P256dh: sub.AuthKeys.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subscriber,
		TTL:             int(s.cfg.TTL.Seconds()),
		Urgency:         webpush.Urgency(s.cfg.Urgency),
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// GenerateKeys creates a fresh VAPID key pair.
func GenerateKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keys: %w", err)
	}
	return publicKey, privateKey, nil
}

// ValidateKeys checks that the keys decode to a P-256 point and scalar.
func ValidateKeys(publicKey, privateKey string) error {
	if strings.TrimSpace(publicKey) == "" || strings.TrimSpace(privateKey) == "" {
		return fmt.Errorf("%w: public and private keys are required", ErrInvalidKeys)
	}
	pub, err := decodeKey(publicKey)
	if err != nil {
		return fmt.Errorf("%w: public key: %w", ErrInvalidKeys, err)
	}
	if len(pub) != 65 || pub[0] != 0x04 {
		return fmt.Errorf("%w: public key must be an uncompressed P-256 point", ErrInvalidKeys)
	}
	priv, err := decodeKey(privateKey)
	if err != nil {
		return fmt.Errorf("%w: private key: %w", ErrInvalidKeys, err)
	}
	if len(priv) != 32 {
		return fmt.Errorf("%w: private key must be 32 bytes", ErrInvalidKeys)
	}
	return nil
}

func decodeKey(key string) ([]byte, error) {
	key = strings.TrimRight(strings.TrimSpace(key), "=")
	if b, err := base64.RawURLEncoding.DecodeString(key); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return b, nil
}
