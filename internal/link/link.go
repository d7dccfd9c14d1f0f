// Package link encodes and decodes exchange links.
//
// A link has the form <base>/<sessionId>#<hex(material)> where material is
// the receiver's public key (receiver-initiated exchanges) or the sender's
// random link seed (sender-initiated exchanges). The fragment never reaches
// the relay, so the key material travels only out-of-band.
package link

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/blindsend/blindsend/internal/crypto"
)

// ErrLinkFormat is returned for links missing a session id or fragment, or
// carrying a fragment that is not valid hex.
var ErrLinkFormat = errors.New("malformed exchange link")

// Link is a decoded exchange link.
type Link struct {
	Base      string // everything before the session id segment
	SessionID string
	Material  []byte
}

// String re-encodes the link.
func (l *Link) String() string {
	return join(l.Base, l.SessionID) + "#" + hex.EncodeToString(l.Material)
}

// EncodeReceiverLink builds a link carrying the receiver's X25519 public key.
func EncodeReceiverLink(base, sessionID string, publicKey []byte) (string, error) {
	if len(publicKey) != crypto.KeySize {
		return "", fmt.Errorf("%w: public key must be %d bytes, got %d", ErrLinkFormat, crypto.KeySize, len(publicKey))
	}
	return encode(base, sessionID, publicKey)
}

// EncodeSenderLink builds a link carrying the sender's random link seed.
func EncodeSenderLink(base, sessionID string, seed []byte) (string, error) {
	return encode(base, sessionID, seed)
}

// Attach sets the fragment of a link issued by the exchange service, which
// already carries the session id in its path.
func Attach(issued string, material []byte) (string, error) {
	if len(material) == 0 {
		return "", fmt.Errorf("%w: empty key material", ErrLinkFormat)
	}
	head := issued
	if i := strings.LastIndexByte(issued, '#'); i >= 0 && isHex(issued[i+1:]) {
		head = issued[:i]
	}
	if _, err := sessionFromHead(head); err != nil {
		return "", err
	}
	return head + "#" + hex.EncodeToString(material), nil
}

func encode(base, sessionID string, material []byte) (string, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: base %q is not an absolute URL", ErrLinkFormat, base)
	}
	if sessionID == "" || strings.ContainsAny(sessionID, "/#?") {
		return "", fmt.Errorf("%w: invalid session id %q", ErrLinkFormat, sessionID)
	}
	if len(material) == 0 {
		return "", fmt.Errorf("%w: empty key material", ErrLinkFormat)
	}
	return join(base, sessionID) + "#" + hex.EncodeToString(material), nil
}

// Parse splits a link into base, session id and decoded fragment.
func Parse(raw string) (*Link, error) {
	head, frag, err := split(raw)
	if err != nil {
		return nil, err
	}
	id, err := sessionFromHead(head)
	if err != nil {
		return nil, err
	}
	material, err := decodeHex(frag)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(strings.TrimRight(stripQuery(head), "/"), id)
	return &Link{
		Base:      strings.TrimRight(base, "/"),
		SessionID: id,
		Material:  material,
	}, nil
}

// DecodeSessionID extracts the session id path segment.
func DecodeSessionID(raw string) (string, error) {
	head := raw
	if i := strings.LastIndexByte(raw, '#'); i >= 0 {
		head = raw[:i]
	}
	return sessionFromHead(head)
}

// DecodeFragment hex-decodes the fragment back into key material.
func DecodeFragment(raw string) ([]byte, error) {
	_, frag, err := split(raw)
	if err != nil {
		return nil, err
	}
	return decodeHex(frag)
}

func split(raw string) (head, frag string, err error) {
	i := strings.LastIndexByte(raw, '#')
	if i < 0 {
		return "", "", fmt.Errorf("%w: missing fragment", ErrLinkFormat)
	}
	return raw[:i], raw[i+1:], nil
}

func sessionFromHead(head string) (string, error) {
	path := strings.TrimRight(stripQuery(head), "/")
	i := strings.LastIndexByte(path, '/')
	id := path[i+1:]
	if id == "" || i < 0 || strings.HasSuffix(path[:i], ":/") || strings.HasSuffix(path[:i+1], "://") {
		return "", fmt.Errorf("%w: missing session id", ErrLinkFormat)
	}
	return id, nil
}

func decodeHex(frag string) ([]byte, error) {
	if frag == "" {
		return nil, fmt.Errorf("%w: empty fragment", ErrLinkFormat)
	}
	b, err := hex.DecodeString(frag)
	if err != nil {
		return nil, fmt.Errorf("%w: fragment is not hex: %v", ErrLinkFormat, err)
	}
	return b, nil
}

func stripQuery(s string) string {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i]
	}
	return s
}

func join(base, sessionID string) string {
	return strings.TrimRight(base, "/") + "/" + sessionID
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
