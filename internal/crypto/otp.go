package crypto

import (
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
)

// GenerateOTP derives a 6-digit time-based code from a freshly generated
// secret bound to account. The secret is discarded; the code is only ever
// compared against what the ledger stored.
func GenerateOTP(account string, at time.Time) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tokenIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", fmt.Errorf("generating otp secret: %w", err)
	}

	code, err := totp.GenerateCode(key.Secret(), at)
	if err != nil {
		return "", fmt.Errorf("generating otp code: %w", err)
	}
	return code, nil
}
