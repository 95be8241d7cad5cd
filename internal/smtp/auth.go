package smtp

import (
	"context"
	"encoding/base64"
)

// redacted replaces credential lines in logs and errors.
const redacted = "***"

// authLogin runs AUTH LOGIN: the command answered by 334, the base64
// username answered by 334, and the base64 password answered by 235.
func (s *Session) authLogin(ctx context.Context) error {
	if err := s.exchange(ctx, "AUTH LOGIN", "AUTH LOGIN", 334); err != nil {
		return err
	}
	if err := s.exchange(ctx, encodeCredential(s.config.Username), redacted, 334); err != nil {
		return err
	}
	return s.exchange(ctx, encodeCredential(s.config.Password), redacted, 235)
}

func encodeCredential(v string) string {
	return base64.StdEncoding.EncodeToString([]byte(v))
}
