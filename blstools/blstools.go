package blstools

import (
	"github.com/flashbots/go-boost-utils/bls"
	"github.com/flashbots/go-boost-utils/types"
)

func GenerateNewKeypair() (sk *bls.SecretKey, pubKey types.PublicKey, err error) {
	sk, pk, err := bls.GenerateNewKeypair()
	if err != nil {
		return nil, pubKey, err
	}

	pkBytes := pk.Bytes()
	err = pubKey.FromSlice(pkBytes[:]) //nolint

	return sk, pubKey, err
}

func SecretKeyFromBytes(skBytes []byte) (sk *bls.SecretKey, pk types.PublicKey, err error) {
	sk, err = bls.SecretKeyFromBytes(skBytes[:])
	if err != nil {
		return nil, types.PublicKey{}, err
	}

	pubkey, err := bls.PublicKeyFromSecretKey(sk)
	if err != nil {
		return nil, types.PublicKey{}, err
	}

	pubkeyBytes := pubkey.Bytes()
	err = pk.FromSlice(pubkeyBytes[:]) //nolint

	return sk, pk, err
}

// Root lets a bare 32-byte root be signed through types.SignMessage: a root
// hashes to itself.
type Root types.Root

func (r Root) HashTreeRoot() ([32]byte, error) {
	return r, nil
}

// SignRoot signs an object root under the given domain.
func SignRoot(root types.Root, d types.Domain, sk *bls.SecretKey) (types.Signature, error) {
	return types.SignMessage(Root(root), d, sk)
}
