package verify

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/blocknative/syncgate/structs"
)

var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

const (
	PublicKeyLength = bls12381.SizeOfG1AffineCompressed
	SecretKeyLength = fr.Bytes
	SignatureLength = bls12381.SizeOfG2AffineCompressed
)

type (
	PublicKey = bls12381.G1Affine
	SecretKey = fr.Element
	Signature = bls12381.G2Affine
)

var (
	_, _, g1One, _            = bls12381.Generators()
	ErrInvalidPubkeyLength    = errors.New("invalid public key length")
	ErrInvalidSecretKeyLength = errors.New("invalid secret key length")
	ErrInvalidSignatureLength = errors.New("invalid signature length")
	ErrNoPubkeys              = errors.New("no public keys to aggregate")
	ErrNoSignatures           = errors.New("no signatures to aggregate")
)

func PublicKeyFromBytes(pkBytes []byte) (*PublicKey, error) {
	if len(pkBytes) != PublicKeyLength {
		return nil, ErrInvalidPubkeyLength
	}
	pk := new(PublicKey)
	err := pk.Unmarshal(pkBytes)
	return pk, err
}

func SignatureFromBytes(sigBytes []byte) (*Signature, error) {
	if len(sigBytes) != SignatureLength {
		return nil, ErrInvalidSignatureLength
	}
	sig := new(Signature)
	err := sig.Unmarshal(sigBytes)
	return sig, err
}

func VerifySignatureBytes(msg [32]byte, sigBytes, pkBytes []byte) (ok bool, err error) {
	defer func() { // better safe than sorry
		if r := recover(); r != nil {
			var isErr bool
			err, isErr = r.(error)
			if !isErr {
				err = fmt.Errorf("verify signature bytes panic: %v", r)
			}
		}
	}()

	pk, err := PublicKeyFromBytes(pkBytes)
	if err != nil {
		return false, err
	}
	sig, err := SignatureFromBytes(sigBytes)
	if err != nil {
		return false, err
	}
	return VerifySignature(sig, pk, msg[:])
}

func VerifySignature(sig *Signature, pk *PublicKey, msg []byte) (bool, error) {
	Q, err := bls12381.HashToG2(msg, dst)
	if err != nil {
		return false, err
	}
	var negP bls12381.G1Affine
	negP.Neg(&g1One)
	return bls12381.PairingCheck(
		[]bls12381.G1Affine{*pk, negP},
		[]bls12381.G2Affine{Q, *sig},
	)
}

// AggregatePublicKeysBytes sums the given compressed G1 pubkeys into a single
// compressed aggregate pubkey. The aggregate verifies a signature produced by
// all of the corresponding secret keys over the same message.
func AggregatePublicKeysBytes(pkBytes [][]byte) ([PublicKeyLength]byte, error) {
	var out [PublicKeyLength]byte
	if len(pkBytes) == 0 {
		return out, ErrNoPubkeys
	}

	var agg bls12381.G1Jac
	for i, b := range pkBytes {
		pk, err := PublicKeyFromBytes(b)
		if err != nil {
			return out, fmt.Errorf("pubkey %d: %w", i, err)
		}
		if i == 0 {
			agg.FromAffine(pk)
			continue
		}
		agg.AddMixed(pk)
	}

	var affine bls12381.G1Affine
	affine.FromJacobian(&agg)
	return affine.Bytes(), nil
}

// AggregateSignaturesBytes sums compressed G2 signatures into one compressed
// aggregate signature.
func AggregateSignaturesBytes(sigBytes [][]byte) ([SignatureLength]byte, error) {
	var out [SignatureLength]byte
	if len(sigBytes) == 0 {
		return out, ErrNoSignatures
	}

	var agg bls12381.G2Jac
	for i, b := range sigBytes {
		sig, err := SignatureFromBytes(b)
		if err != nil {
			return out, fmt.Errorf("signature %d: %w", i, err)
		}
		if i == 0 {
			agg.FromAffine(sig)
			continue
		}
		agg.AddMixed(sig)
	}

	var affine bls12381.G2Affine
	affine.FromJacobian(&agg)
	return affine.Bytes(), nil
}

// VerifyAggregateBytes checks an aggregate signature over one message against
// the set of participant pubkeys (fast aggregate verification).
func VerifyAggregateBytes(msg [32]byte, sigBytes []byte, pkBytes [][]byte) (ok bool, err error) {
	defer func() { // better safe than sorry
		if r := recover(); r != nil {
			var isErr bool
			err, isErr = r.(error)
			if !isErr {
				err = fmt.Errorf("verify aggregate bytes panic: %v", r)
			}
		}
	}()

	aggPk, err := AggregatePublicKeysBytes(pkBytes)
	if err != nil {
		return false, err
	}
	return VerifySignatureBytes(msg, sigBytes, aggPk[:])
}

// IsAggregator reports whether a (valid) selection proof elects its signer as
// aggregator for the subcommittee. Deterministic over the proof bytes; the
// proof's signature must have been verified beforehand.
func IsAggregator(selectionProof []byte) bool {
	modulo := uint64(structs.SyncSubcommitteeSize / structs.TargetAggregatorsPerSyncSubcommittee)
	if modulo < 1 {
		modulo = 1
	}
	h := sha256.Sum256(selectionProof)
	return binary.LittleEndian.Uint64(h[:8])%modulo == 0
}
