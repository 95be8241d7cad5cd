package smtp

import (
	"fmt"
	"strings"
)

// Encryption selects how the connection to the server is secured.
type Encryption int

const (
	// EncryptionNone sends everything in plain text.
	EncryptionNone Encryption = iota
	// EncryptionStartTLS upgrades the connection with STARTTLS after EHLO.
	EncryptionStartTLS
	// EncryptionImplicitTLS performs the TLS handshake right after dialing.
	EncryptionImplicitTLS
)

func (e Encryption) String() string {
	switch e {
	case EncryptionNone:
		return "none"
	case EncryptionStartTLS:
		return "starttls"
	case EncryptionImplicitTLS:
		return "implicit"
	default:
		return fmt.Sprintf("Encryption(%d)", int(e))
	}
}

// ParseEncryption maps a configuration value to an Encryption. "tls" means
// STARTTLS and "ssl" means implicit TLS. Unknown values are rejected.
func ParseEncryption(s string) (Encryption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return EncryptionNone, nil
	case "tls", "starttls":
		return EncryptionStartTLS, nil
	case "ssl", "implicit", "smtps":
		return EncryptionImplicitTLS, nil
	default:
		return EncryptionNone, fmt.Errorf("unknown encryption %q (want none, tls or ssl)", s)
	}
}
