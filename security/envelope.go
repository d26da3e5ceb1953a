package security

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// A sealed value reads
//
//	connectors.secret.v1:<header>.<nonce>.<ciphertext>
//
// where every segment is unpadded base64url and header is the JSON
// {"kid","ver","alg"}. The encoded header is the GCM additional data, so
// relabelling a value with another key id breaks authentication.
const (
	envelopePrefix    = "connectors.secret.v1:"
	envelopeAlgorithm = "aes-256-gcm"
	envelopeSegments  = 3
)

var (
	ErrInvalidEnvelope = errors.New("security: invalid ciphertext envelope")
	ErrKeyMismatch     = errors.New("security: envelope key does not match")
	ErrKeyNotUsable    = errors.New("security: key is outside its rotation window")
)

var segmentEncoding = base64.RawURLEncoding

// EnvelopeMetadata is the readable header of an encrypted value.
type EnvelopeMetadata struct {
	KeyID     string `json:"kid"`
	Version   int    `json:"ver"`
	Algorithm string `json:"alg"`
}

type sealedValue struct {
	EnvelopeMetadata
	header     []byte
	nonce      []byte
	ciphertext []byte
}

func ParseEnvelopeMetadata(ciphertext []byte) (EnvelopeMetadata, error) {
	value, err := openEnvelope(ciphertext)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return value.EnvelopeMetadata, nil
}

// envelopeHeader is the encoded header segment, also used as additional data.
func envelopeHeader(meta EnvelopeMetadata) ([]byte, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope header: %w", err)
	}
	header := make([]byte, segmentEncoding.EncodedLen(len(raw)))
	segmentEncoding.Encode(header, raw)
	return header, nil
}

func closeEnvelope(header, nonce, ciphertext []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(envelopePrefix)
	buf.Write(header)
	buf.WriteByte('.')
	buf.WriteString(segmentEncoding.EncodeToString(nonce))
	buf.WriteByte('.')
	buf.WriteString(segmentEncoding.EncodeToString(ciphertext))
	return buf.Bytes()
}

func openEnvelope(data []byte) (sealedValue, error) {
	body, ok := bytes.CutPrefix(bytes.TrimSpace(data), []byte(envelopePrefix))
	if !ok {
		return sealedValue{}, fmt.Errorf("%w: missing %q prefix", ErrInvalidEnvelope, envelopePrefix)
	}
	segments := bytes.Split(body, []byte("."))
	if len(segments) != envelopeSegments {
		return sealedValue{}, fmt.Errorf("%w: want %d segments, got %d", ErrInvalidEnvelope, envelopeSegments, len(segments))
	}

	value := sealedValue{header: segments[0]}
	rawHeader, err := decodeSegment("header", segments[0])
	if err != nil {
		return sealedValue{}, err
	}
	if err := json.Unmarshal(rawHeader, &value.EnvelopeMetadata); err != nil {
		return sealedValue{}, fmt.Errorf("%w: header: %v", ErrInvalidEnvelope, err)
	}
	value.KeyID = strings.TrimSpace(value.KeyID)
	value.Algorithm = strings.ToLower(strings.TrimSpace(value.Algorithm))
	if value.Algorithm != envelopeAlgorithm {
		return sealedValue{}, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidEnvelope, value.Algorithm)
	}

	if value.nonce, err = decodeSegment("nonce", segments[1]); err != nil {
		return sealedValue{}, err
	}
	if value.ciphertext, err = decodeSegment("ciphertext", segments[2]); err != nil {
		return sealedValue{}, err
	}
	return value, nil
}

func decodeSegment(name string, segment []byte) ([]byte, error) {
	if len(segment) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidEnvelope, name)
	}
	out := make([]byte, segmentEncoding.DecodedLen(len(segment)))
	n, err := segmentEncoding.Decode(out, segment)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidEnvelope, name, err)
	}
	return out[:n], nil
}
