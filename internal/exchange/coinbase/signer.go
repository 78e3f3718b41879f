package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Signer produces CB-ACCESS-* headers. The prehash is
// timestamp + METHOD + requestPath + body, keyed by the base64-decoded secret.
type Signer struct {
	key        string
	secret     []byte
	passphrase string
	now        func() time.Time
}

// NewSigner decodes the base64 secret
func NewSigner(key, secret, passphrase string) (*Signer, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("coinbase secret is not valid base64: %w", err)
	}
	return &Signer{
		key:        key,
		secret:     decoded,
		passphrase: passphrase,
		now:        time.Now,
	}, nil
}

// Timestamp is the current time in epoch seconds
func (s *Signer) Timestamp() string {
	return strconv.FormatInt(s.now().Unix(), 10)
}

// Sign returns the base64 HMAC-SHA256 signature of the prehash string
func (s *Signer) Sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignRequest implements http.Signer
func (s *Signer) SignRequest(req *http.Request, body []byte) error {
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}
	timestamp := s.Timestamp()

	req.Header.Set("CB-ACCESS-KEY", s.key)
	req.Header.Set("CB-ACCESS-SIGN", s.Sign(timestamp, req.Method, path, string(body)))
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("CB-ACCESS-PASSPHRASE", s.passphrase)
	return nil
}
