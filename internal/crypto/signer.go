package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	requestTypeHash = ethcrypto.Keccak256(
		[]byte("Request(address caller,string method,string path,bytes32 bodyHash,uint256 timestamp,string nonce)"),
	)
)

// Domain identifies the API a signature is valid for.
type Domain struct {
	Name    string
	Version string
	ChainID int64
}

// DefaultDomain is the domain the API server checks by default.
var DefaultDomain = Domain{Name: "NFTCall", Version: "1", ChainID: 1}

// Separator returns keccak256(abi.encode(typeHash, name, version, chainId)).
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(d.Name)),
		ethcrypto.Keccak256([]byte(d.Version)),
		common.LeftPadBytes(big.NewInt(d.ChainID).Bytes(), 32),
	)
}

// Request is the signed envelope of one API call. Nonce may be empty; it
// lets a caller sign two otherwise identical requests in the same second.
type Request struct {
	Caller    common.Address
	Method    string
	Path      string
	Body      []byte
	Timestamp int64
	Nonce     string
}

// Digest returns the EIP-712 digest of r under domainSep.
func (r Request) Digest(domainSep []byte) []byte {
	structHash := ethcrypto.Keccak256(
		requestTypeHash,
		common.LeftPadBytes(r.Caller.Bytes(), 32),
		ethcrypto.Keccak256([]byte(strings.ToUpper(r.Method))),
		ethcrypto.Keccak256([]byte(r.Path)),
		ethcrypto.Keccak256(r.Body),
		common.LeftPadBytes(big.NewInt(r.Timestamp).Bytes(), 32),
		ethcrypto.Keccak256([]byte(r.Nonce)),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// Signer signs API requests with one account.
type Signer struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	domainSep []byte
}

// NewSigner returns a signer for key under domain.
func NewSigner(key *ecdsa.PrivateKey, domain Domain) *Signer {
	return &Signer{
		key:       key,
		address:   ethcrypto.PubkeyToAddress(key.PublicKey),
		domainSep: domain.Separator(),
	}
}

// Address is the signing account.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest fills in the caller and returns the 65-byte signature as
// 0x-prefixed hex with v in {27, 28}.
func (s *Signer) SignRequest(r Request) (string, error) {
	r.Caller = s.address
	sig, err := ethcrypto.Sign(r.Digest(s.domainSep), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// Sentinel verification failures.
var (
	ErrBadSignature = errors.New("crypto: bad signature")
	ErrStale        = errors.New("crypto: request timestamp outside allowed skew")
)

// Verifier checks signed requests against one domain.
type Verifier struct {
	domainSep []byte
	maxSkew   time.Duration
	now       func() time.Time
}

// NewVerifier accepts requests signed under domain within maxSkew of now.
func NewVerifier(domain Domain, maxSkew time.Duration) *Verifier {
	return &Verifier{domainSep: domain.Separator(), maxSkew: maxSkew, now: time.Now}
}

// Digest returns the digest Verify checks r against.
func (v *Verifier) Digest(r Request) []byte {
	return r.Digest(v.domainSep)
}

// ReplayWindow is how long a signature stays acceptable: a timestamp may
// lead or trail the clock by the allowed skew.
func (v *Verifier) ReplayWindow() time.Duration {
	return 2 * v.maxSkew
}

// Verify checks that sigHex was produced by r.Caller over r.
func (v *Verifier) Verify(r Request, sigHex string) error {
	ts := time.Unix(r.Timestamp, 0)
	if d := v.now().Sub(ts); d > v.maxSkew || d < -v.maxSkew {
		return ErrStale
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(r.Digest(v.domainSep), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != r.Caller {
		return ErrBadSignature
	}
	return nil
}
