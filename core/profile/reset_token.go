package profile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
)

const resetTokenPurpose = "guitar-crm/password-reset"

var (
	// NowFunc is mocked in tests.
	NowFunc = func() time.Time { return time.Now().UTC() }

	errInvalidToken = errors.New("invalid token")
	errTokenExpired = errors.New("token expired")
)

// EncodeUID is the URL-safe form of the profile ID used in reset links.
func EncodeUID(p Profile) string {
	return base64.RawURLEncoding.EncodeToString([]byte(p.ID))
}

func decodeUID(uid string) (string, error) {
	id, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", errors.Wrap(err, "decoding uid")
	}
	return string(id), nil
}

// MakeToken issues a password reset token formatted "<issued>.<signature>", issued
// being unix seconds in base 36. The signature covers resetFingerprint, so any change
// to the account state it holds revokes the token.
func MakeToken(p Profile) (string, error) {
	return resetToken(p, NowFunc().Unix())
}

func resetToken(p Profile, issued int64) (string, error) {
	mac := hmac.New(sha256.New, resetKey())
	if _, err := mac.Write(resetFingerprint(p, issued)); err != nil {
		return "", errors.Wrap(err, "signing reset token")
	}
	return strconv.FormatInt(issued, 36) + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// verifyToken reports errTokenExpired only for authentic tokens.
func verifyToken(p Profile, token string) error {
	if !p.IsActive {
		return errInvalidToken
	}
	issuedStr, _, ok := strings.Cut(token, ".")
	if !ok {
		return errInvalidToken
	}
	issued, err := strconv.ParseInt(issuedStr, 36, 64)
	if err != nil {
		return errInvalidToken
	}

	want, err := resetToken(p, issued)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(token)) {
		return errInvalidToken
	}
	if NowFunc().Sub(time.Unix(issued, 0)) > core.Conf.PasswordResetTimeoutDelta {
		return errTokenExpired
	}
	return nil
}

func resetKey() []byte {
	key := sha256.Sum256([]byte(resetTokenPurpose + core.Conf.SecretKey))
	return key[:]
}

func resetFingerprint(p Profile, issued int64) []byte {
	lastLogin := ""
	if !p.LastLogin.IsZero() {
		lastLogin = p.LastLogin.UTC().Format(time.RFC3339Nano)
	}
	fields := []string{
		p.ID,
		p.Email,
		string(p.PasswordHash),
		lastLogin,
		strconv.FormatBool(p.IsActive),
		p.StudentStatus,
		strconv.FormatInt(issued, 10),
	}
	return []byte(strings.Join(fields, "\x00"))
}
