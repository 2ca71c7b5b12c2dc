package principal

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"hash/crc32"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/wippyai/canister-sim/errors"
)

// MaxLength is the maximum byte length of a principal.
const MaxLength = 29

const (
	tagOpaque             = 0x01
	tagSelfAuthenticating = 0x02
	tagAnonymous          = 0x04
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// textCache memoizes textual renderings, which are recomputed on every log line otherwise.
var textCache *lru.Cache

func init() {
	c, err := lru.New(4096)
	if err != nil {
		panic(err)
	}
	textCache = c
}

// Principal is an opaque identity for canisters and users.
// The zero value is the management canister identity.
type Principal struct {
	raw string
}

// FromBytes creates a principal from its binary form.
func FromBytes(b []byte) (Principal, error) {
	if len(b) > MaxLength {
		return Principal{}, errors.New(errors.PhasePrincipal, errors.KindInvalidInput).
			Detail("principal is %d bytes, max %d", len(b), MaxLength).
			Value(len(b)).
			Build()
	}
	return Principal{raw: string(b)}, nil
}

// MustFromBytes is like FromBytes but panics on invalid input.
func MustFromBytes(b []byte) Principal {
	p, err := FromBytes(b)
	if err != nil {
		panic(err)
	}
	return p
}

// FromText parses the dashed base32 textual form and verifies its checksum.
func FromText(s string) (Principal, error) {
	raw := strings.ToUpper(strings.ReplaceAll(s, "-", ""))
	decoded, err := encoding.DecodeString(raw)
	if err != nil {
		return Principal{}, errors.Wrap(errors.PhasePrincipal, errors.KindInvalidData, err, "decode principal text "+s)
	}
	if len(decoded) < 4 {
		return Principal{}, errors.InvalidData(errors.PhasePrincipal, nil, "principal text too short: "+s)
	}
	body := decoded[4:]
	if binary.BigEndian.Uint32(decoded[:4]) != crc32.ChecksumIEEE(body) {
		return Principal{}, errors.InvalidData(errors.PhasePrincipal, nil, "principal checksum mismatch: "+s)
	}
	p, err := FromBytes(body)
	if err != nil {
		return Principal{}, err
	}
	if p.Text() != s {
		return Principal{}, errors.InvalidData(errors.PhasePrincipal, nil, "principal text is not canonical: "+s)
	}
	return p, nil
}

// MustFromText is like FromText but panics on invalid input.
func MustFromText(s string) Principal {
	p, err := FromText(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Anonymous returns the identity of unauthenticated callers.
func Anonymous() Principal {
	return Principal{raw: string([]byte{tagAnonymous})}
}

// Management returns the management canister identity (empty bytes).
func Management() Principal {
	return Principal{}
}

// SelfAuthenticating derives a user identity from a public key.
func SelfAuthenticating(publicKey []byte) Principal {
	sum := sha256.Sum224(publicKey)
	b := make([]byte, 0, len(sum)+1)
	b = append(b, sum[:]...)
	b = append(b, tagSelfAuthenticating)
	return Principal{raw: string(b)}
}

// FromCanisterID returns the principal of the canister with the given numeric id.
func FromCanisterID(id uint64) Principal {
	var b [10]byte
	binary.BigEndian.PutUint64(b[:8], id)
	b[8] = tagOpaque
	b[9] = tagOpaque
	return Principal{raw: string(b[:])}
}

// Bytes returns a copy of the binary form.
func (p Principal) Bytes() []byte {
	return []byte(p.raw)
}

// Len returns the byte length.
func (p Principal) Len() int {
	return len(p.raw)
}

func (p Principal) IsAnonymous() bool {
	return len(p.raw) == 1 && p.raw[0] == tagAnonymous
}

func (p Principal) IsManagement() bool {
	return len(p.raw) == 0
}

// Compare orders principals by their binary form.
func (p Principal) Compare(other Principal) int {
	return bytes.Compare([]byte(p.raw), []byte(other.raw))
}

// Text returns the checksummed textual form, e.g. "2vxsx-fae".
func (p Principal) Text() string {
	if v, ok := textCache.Get(p.raw); ok {
		return v.(string)
	}

	buf := make([]byte, 4+len(p.raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE([]byte(p.raw)))
	copy(buf[4:], p.raw)
	enc := strings.ToLower(encoding.EncodeToString(buf))

	var b strings.Builder
	b.Grow(len(enc) + len(enc)/5)
	for i := 0; i < len(enc); i += 5 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 5
		if end > len(enc) {
			end = len(enc)
		}
		b.WriteString(enc[i:end])
	}

	text := b.String()
	textCache.Add(p.raw, text)
	return text
}

func (p Principal) String() string {
	return p.Text()
}

// MarshalText implements encoding.TextMarshaler.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.Text()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := FromText(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p Principal) MarshalBinary() ([]byte, error) {
	return p.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *Principal) UnmarshalBinary(data []byte) error {
	parsed, err := FromBytes(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
