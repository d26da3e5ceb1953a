package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
)

type HMACConfig struct {
	KeyID           string
	Secret          string
	SignatureHeader string
	TimestampHeader string
	Now             func() time.Time
}

// HMAC signs each request with HMAC-SHA256 over
//
//	METHOD \n path?query \n unix-timestamp \n hex(sha256(body))
//
// and sends the hex signature with the timestamp. A KeyID goes out in
// X-Key-Id.
type HMAC struct {
	config HMACConfig
}

func NewHMAC(cfg HMACConfig) *HMAC {
	signature := strings.TrimSpace(cfg.SignatureHeader)
	if signature == "" {
		signature = "X-Signature"
	}
	timestamp := strings.TrimSpace(cfg.TimestampHeader)
	if timestamp == "" {
		timestamp = "X-Timestamp"
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &HMAC{config: HMACConfig{
		KeyID:           strings.TrimSpace(cfg.KeyID),
		Secret:          cfg.Secret,
		SignatureHeader: signature,
		TimestampHeader: timestamp,
		Now:             now,
	}}
}

func (*HMAC) Kind() string { return KindHMAC }

func (h *HMAC) Apply(_ context.Context, req *http.Request) error {
	body, err := readBody(req)
	if err != nil {
		return core.WrapError(err, core.ErrorKindExecution, "auth: read body for signing", nil)
	}
	timestamp := strconv.FormatInt(h.config.Now().Unix(), 10)
	req.Header.Set(h.config.TimestampHeader, timestamp)
	req.Header.Set(h.config.SignatureHeader, Sign(h.config.Secret, req.Method, req.URL.RequestURI(), timestamp, body))
	if h.config.KeyID != "" {
		req.Header.Set("X-Key-Id", h.config.KeyID)
	}
	return nil
}

// Sign returns the hex signature HMAC sends. Receivers verify with the same
// inputs.
func Sign(secret, method, requestURI, timestamp string, body []byte) string {
	digest := sha256.Sum256(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.ToUpper(method) + "\n" + requestURI + "\n" + timestamp + "\n" + hex.EncodeToString(digest[:])))
	return hex.EncodeToString(mac.Sum(nil))
}

// readBody returns the body and leaves the request readable.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		copyBody, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		defer copyBody.Close()
		return io.ReadAll(copyBody)
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}
