package x402

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain is the EIP-712 signing domain of the settlement token contract.
// Cronos Testnet devUSDC.e ships as "Bridged USDC (Stargate)" version "1";
// mainnet USDC uses version "2", so the domain is configuration, not code.
type Domain struct {
	Name              string `mapstructure:"name"`
	Version           string `mapstructure:"version"`
	ChainID           int64  `mapstructure:"chain_id"`
	VerifyingContract string `mapstructure:"verifying_contract"`
}

// DefaultDomain is the devUSDC.e domain on Cronos Testnet (chain 338).
func DefaultDomain() Domain {
	return Domain{
		Name:              "Bridged USDC (Stargate)",
		Version:           "1",
		ChainID:           338,
		VerifyingContract: "0xc01efAaF7C5C61bEbFAeb358E1161b537b8bC0e0",
	}
}

var (
	transferWithAuthorizationTypeHash = crypto.Keccak256(
		[]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"),
	)
	eip712DomainTypeHash = crypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
)

// StructHash computes the EIP-712 struct hash of a TransferWithAuthorization
// message: keccak256(typeHash || from || to || value || validAfter ||
// validBefore || nonce), every field padded to 32 bytes.
func StructHash(auth PaymentAuthorization) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("value %q is not a decimal integer", auth.Value)
	}

	nonce, err := nonceBytes32(auth.Nonce)
	if err != nil {
		return nil, err
	}

	encoded := make([]byte, 0, 7*32)
	encoded = append(encoded, transferWithAuthorizationTypeHash...)
	encoded = append(encoded, common.LeftPadBytes(common.HexToAddress(auth.From).Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(common.HexToAddress(auth.To).Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(value.Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(big.NewInt(auth.ValidAfter).Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(big.NewInt(auth.ValidBefore).Bytes(), 32)...)
	encoded = append(encoded, nonce...)

	return crypto.Keccak256(encoded), nil
}

// DomainSeparator computes the EIP-712 domain separator for the token domain.
func DomainSeparator(domain Domain) []byte {
	encoded := make([]byte, 0, 5*32)
	encoded = append(encoded, eip712DomainTypeHash...)
	encoded = append(encoded, crypto.Keccak256([]byte(domain.Name))...)
	encoded = append(encoded, crypto.Keccak256([]byte(domain.Version))...)
	encoded = append(encoded, common.LeftPadBytes(big.NewInt(domain.ChainID).Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(common.HexToAddress(domain.VerifyingContract).Bytes(), 32)...)
	return crypto.Keccak256(encoded)
}

// SigningDigest is the final digest a wallet signs:
// keccak256(0x19 0x01 || domainSeparator || structHash).
func SigningDigest(domain Domain, auth PaymentAuthorization) ([]byte, error) {
	structHash, err := StructHash(auth)
	if err != nil {
		return nil, err
	}

	encoded := make([]byte, 0, 2+2*32)
	encoded = append(encoded, 0x19, 0x01)
	encoded = append(encoded, DomainSeparator(domain)...)
	encoded = append(encoded, structHash...)
	return crypto.Keccak256(encoded), nil
}

// RecoverSigner recovers the address that produced auth.Signature over the
// domain's signing digest. The 65-byte signature may carry v as 27/28
// (wallet convention) or 0/1.
func RecoverSigner(domain Domain, auth PaymentAuthorization) (common.Address, error) {
	sig, err := hexutil.Decode(auth.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	digest, err := SigningDigest(domain, auth)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

func nonceBytes32(nonce string) ([]byte, error) {
	raw, err := hexutil.Decode(nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(raw) > 32 {
		return nil, errors.New("nonce exceeds 32 bytes")
	}
	return common.LeftPadBytes(raw, 32), nil
}
