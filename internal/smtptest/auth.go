package smtptest

import (
	"encoding/base64"
	"fmt"
)

const (
	// usernameChallenge and passwordChallenge are base64 "Username:" and
	// "Password:".
	usernameChallenge = "334 VXNlcm5hbWU6"
	passwordChallenge = "334 UGFzc3dvcmQ6"
)

// authenticator checks AUTH LOGIN credentials against the configured pair.
type authenticator struct {
	username string
	password string
}

func (a *authenticator) enabled() bool {
	return a.username != ""
}

// verifyLogin checks the base64 username and password lines of an AUTH LOGIN
// exchange.
func (a *authenticator) verifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return fmt.Errorf("invalid base64 username")
	}

	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return fmt.Errorf("invalid base64 password")
	}

	if string(user) != a.username || string(pass) != a.password {
		return fmt.Errorf("authentication failed")
	}

	return nil
}
