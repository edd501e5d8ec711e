package authenticator

import (
	"context"
	"crypto/rsa"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/telekom/authctl/pkg/autherr"
)

// AssertionLifetime is how long a client assertion stays valid.
const AssertionLifetime = 60 * time.Second

// SignedJWT authenticates with a short lived RS256 client assertion instead
// of a shared secret.
type SignedJWT struct {
	pem      string
	key      *rsa.PrivateKey
	clientID string
	now      func() time.Time
}

func newSignedJWT(c SignedJWTCredentials, clientID string) (*SignedJWT, error) {
	pem := c.Secret
	if pem == "" && c.SecretFile == "" {
		return nil, autherr.InvalidArgument("a private key or private key file is required")
	}
	if pem == "" {
		info, err := os.Stat(c.SecretFile)
		if err != nil {
			return nil, autherr.Wrap(autherr.CodeInvalidValue, err, "private key file %s does not exist", c.SecretFile)
		}
		if !info.Mode().IsRegular() {
			return nil, autherr.InvalidValue("private key file %s is not a file", c.SecretFile)
		}
		data, err := os.ReadFile(c.SecretFile)
		if err != nil {
			return nil, autherr.Wrap(autherr.CodeInvalidValue, err, "failed to read private key file %s", c.SecretFile)
		}
		pem = string(data)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeAuthFailed, err, "invalid private key")
	}
	return &SignedJWT{pem: pem, key: key, clientID: clientID, now: time.Now}, nil
}

func (s *SignedJWT) Name() string { return "SignedJWT" }

func (s *SignedJWT) ServiceAccount() bool { return true }

func (s *SignedJWT) HashParams() map[string]any {
	return map[string]any{"clientAssertionType": ClientAssertionTypeJWT}
}

func (s *SignedJWT) TokenParams(_ context.Context, tokenURL string, _ LoginParams) (map[string]string, error) {
	form, err := s.assertionParams(tokenURL)
	if err != nil {
		return nil, err
	}
	form["grant_type"] = GrantClientCredentials
	return form, nil
}

func (s *SignedJWT) RefreshTokenParams(_ context.Context, tokenURL string) (map[string]string, error) {
	return s.assertionParams(tokenURL)
}

func (s *SignedJWT) AuthenticatorParams() SecretMaterial {
	return SecretMaterial{Secret: s.pem}
}

func (s *SignedJWT) assertionParams(tokenURL string) (map[string]string, error) {
	assertion, err := s.signAssertion(tokenURL)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"client_assertion_type": ClientAssertionTypeJWT,
		"client_assertion":      assertion,
	}, nil
}

// signAssertion builds the client assertion: issued by and about the client,
// addressed to the token endpoint.
func (s *SignedJWT) signAssertion(tokenURL string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.clientID,
		Subject:   s.clientID,
		Audience:  jwt.ClaimStrings{tokenURL},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(AssertionLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", autherr.Wrap(autherr.CodeAuthFailed, err, "failed to sign client assertion")
	}
	return signed, nil
}
