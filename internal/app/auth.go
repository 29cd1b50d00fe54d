package app

import (
	"crypto/ed25519"
	"crypto/sha256"
	"strconv"

	errorsmod "cosmossdk.io/errors"

	"tilerank/apps/chain/internal/codec"
	"tilerank/apps/chain/internal/state"
	"tilerank/apps/chain/internal/types"
)

const txAuthDomainV0 = "tilerank/tx/v0"

func txAuthSignBytesV0(typ string, value []byte, nonce string, signer string) []byte {
	// signBytes = DOMAIN || 0x00 || type || 0x00 || nonce || 0x00 || signer || 0x00 || sha256(value)
	sum := sha256.Sum256(value)
	out := make([]byte, 0, len(txAuthDomainV0)+1+len(typ)+1+len(nonce)+1+len(signer)+1+sha256.Size)
	out = append(out, []byte(txAuthDomainV0)...)
	out = append(out, 0)
	out = append(out, []byte(typ)...)
	out = append(out, 0)
	out = append(out, []byte(nonce)...)
	out = append(out, 0)
	out = append(out, []byte(signer)...)
	out = append(out, 0)
	out = append(out, sum[:]...)
	return out
}

func requireSignedEnvelope(env codec.TxEnvelope) error {
	if env.Nonce == "" {
		return types.ErrUnauthorized.Wrap("missing tx.nonce")
	}
	if env.Signer == "" {
		return types.ErrUnauthorized.Wrap("missing tx.signer")
	}
	if len(env.Sig) == 0 {
		return types.ErrUnauthorized.Wrap("missing tx.sig")
	}
	if len(env.Sig) != ed25519.SignatureSize {
		return types.ErrUnauthorized.Wrapf("invalid tx.sig length: got %d want %d", len(env.Sig), ed25519.SignatureSize)
	}
	return nil
}

func verifySig(pub []byte, env codec.TxEnvelope) error {
	msg := txAuthSignBytesV0(env.Type, env.Value, env.Nonce, env.Signer)
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, env.Sig) {
		return types.ErrUnauthorized.Wrap("invalid signature")
	}
	return nil
}

func requireRegisterAccountAuth(env codec.TxEnvelope, msg codec.AuthRegisterAccountTx) error {
	if msg.Account == "" {
		return types.ErrInvalidRequest.Wrap("missing account")
	}
	if len(msg.PubKey) != ed25519.PublicKeySize {
		return types.ErrInvalidRequest.Wrapf("pubKey must be %d bytes", ed25519.PublicKeySize)
	}
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if env.Signer != msg.Account {
		return types.ErrUnauthorized.Wrapf("tx signer mismatch: signer=%q want=%q", env.Signer, msg.Account)
	}
	return verifySig(msg.PubKey, env)
}

// requireAccountAuth is the credential check in front of every mutating command:
// account must be registered and must have signed env.
func requireAccountAuth(st *state.State, env codec.TxEnvelope, account string) (*state.Account, error) {
	if account == "" {
		return nil, types.ErrInvalidRequest.Wrap("missing account")
	}
	if err := requireSignedEnvelope(env); err != nil {
		return nil, err
	}
	if env.Signer != account {
		return nil, types.ErrUnauthorized.Wrapf("tx signer mismatch: signer=%q want=%q", env.Signer, account)
	}
	acct := st.Accounts[account]
	if acct == nil || len(acct.PubKey) != ed25519.PublicKeySize {
		return nil, types.ErrUnauthorized.Wrapf("account %q missing pubKey (auth/register_account required)", account)
	}
	if err := verifySig(acct.PubKey, env); err != nil {
		return nil, err
	}
	return acct, nil
}

// requireAdminAuth is requireAccountAuth plus the admin role.
func requireAdminAuth(st *state.State, env codec.TxEnvelope, account string) (*state.Account, error) {
	acct, err := requireAccountAuth(st, env, account)
	if err != nil {
		return nil, err
	}
	if !acct.Admin {
		return nil, types.ErrUnauthorized.Wrapf("account %q is not an admin", account)
	}
	return acct, nil
}

// consumeNonce enforces strictly increasing nonces per signer.
func consumeNonce(st *state.State, env codec.TxEnvelope) error {
	n, err := strconv.ParseUint(env.Nonce, 10, 64)
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "invalid tx.nonce %q", env.Nonce)
	}
	if last, ok := st.NonceMax[env.Signer]; ok && n <= last {
		return types.ErrReplayedNonce.Wrapf("replayed tx.nonce %d (last %d)", n, last)
	}
	st.NonceMax[env.Signer] = n
	return nil
}
