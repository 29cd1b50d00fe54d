package types

import errorsmod "cosmossdk.io/errors"

// Codespace is the ABCI codespace of every error raised by the application.
const Codespace = "tilerank"

// Sentinel errors. Codes are part of the client contract: clients branch on them to
// tell "retry later" (stale timestamp, cooldown) from "never succeeds" (not owner,
// terminal board).
var (
	ErrInvalidRequest    = errorsmod.Register(Codespace, 2, "invalid request")
	ErrNotFound          = errorsmod.Register(Codespace, 3, "not found")
	ErrUnauthorized      = errorsmod.Register(Codespace, 4, "unauthorized")
	ErrAlreadyExists     = errorsmod.Register(Codespace, 5, "already exists")
	ErrStaleTimestamp    = errorsmod.Register(Codespace, 6, "stale timestamp")
	ErrWindowClosed      = errorsmod.Register(Codespace, 7, "window closed")
	ErrNotOwner          = errorsmod.Register(Codespace, 8, "not owner")
	ErrBoardTerminal     = errorsmod.Register(Codespace, 9, "board terminal")
	ErrCooldownActive    = errorsmod.Register(Codespace, 10, "cooldown active")
	ErrCapacityInvariant = errorsmod.Register(Codespace, 11, "capacity invariant violated")
	ErrNoopBatch         = errorsmod.Register(Codespace, 12, "no move in batch changed the board")
	ErrReplayedNonce     = errorsmod.Register(Codespace, 13, "replayed tx.nonce")
)

// Retryable reports whether a caller may succeed by resubmitting later or with a
// corrected timestamp.
func Retryable(err error) bool {
	return errorsmod.IsOf(err, ErrStaleTimestamp, ErrCooldownActive)
}
