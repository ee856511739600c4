package billing

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Success tokens are single-use and short-lived. They exist so the
// success redirect cannot be replayed or pointed at somebody else's
// checkout session.
const (
	successTokenPrefix = "success_token_"
	successTokenTTL    = time.Hour
)

func generateSuccessToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate success token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func successTokenKey(token string) string {
	return successTokenPrefix + token
}

// storeSuccessToken binds a fresh token to the user initiating checkout.
func (s *Service) storeSuccessToken(token string, userID uint) error {
	return s.kv.Set(successTokenKey(token), strconv.FormatUint(uint64(userID), 10), successTokenTTL)
}

// consumeSuccessToken validates the token and removes it in one atomic
// step, so of two racing redirects exactly one gets the token and the
// other sees ErrTokenNotFound. Returns the bound user id.
func (s *Service) consumeSuccessToken(token string) (uint, error) {
	if token == "" {
		return 0, ErrTokenNotFound
	}
	val, err := s.kv.GetDelete(successTokenKey(token))
	if errors.Is(err, ErrKVMiss) {
		return 0, ErrTokenNotFound
	}
	if err != nil {
		return 0, err
	}
	userID, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, ErrTokenNotFound
	}
	return uint(userID), nil
}
