// Package credential stores API secrets in the system keyring, with an
// environment-variable override for headless deployments.
package credential

import (
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "inboxtriage"

// Well-known credential keys.
const (
	KeyGroqAPIKey        = "groq_api_key"
	KeySlackToken        = "slack_bot_token"
	KeyGmailClientID     = "gmail_client_id"
	KeyGmailClientSecret = "gmail_client_secret"
	KeyGmailRefreshToken = "gmail_refresh_token"
	KeyIMAPPassword      = "imap_password"
	KeySearchAPIKey      = "search_api_key"
)

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/inboxtriage/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("inboxtriage-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Resolve looks up a secret by environment variable first, then falls
// back to the keyring. Returns an empty string when neither is set.
func Resolve(envVar, key string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if v, err := Get(key); err == nil {
		return v
	}
	return ""
}
