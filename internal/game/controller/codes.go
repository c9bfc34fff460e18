package controller

import (
	"errors"

	"tacarena.ai/internal/game/ledger"
	"tacarena.ai/internal/game/registration"
	"tacarena.ai/internal/game/settlement"
	"tacarena.ai/internal/protocol"
)

// ErrorCode maps a domain error to its wire code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, registration.ErrAlreadyRegistered):
		return protocol.ErrAgentAlreadyRegistered
	case errors.Is(err, registration.ErrNameTaken):
		return protocol.ErrAgentNameAlreadyRegistered
	case errors.Is(err, registration.ErrNotWhitelisted):
		return protocol.ErrAgentNameNotInWhitelist
	case errors.Is(err, registration.ErrNotRegistered):
		return protocol.ErrAgentNotRegistered
	case errors.Is(err, registration.ErrRegistrationClosed):
		return protocol.ErrRegistrationClosed
	case errors.Is(err, registration.ErrQuorumNotReached):
		return protocol.ErrRequestNotValid
	case errors.Is(err, ErrCompetitionNotRunning):
		return protocol.ErrCompetitionNotRunning
	case errors.Is(err, ErrAlreadyAttached):
		return protocol.ErrAlreadyConnected
	case errors.Is(err, ErrBadToken):
		return protocol.ErrBadToken
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return protocol.ErrInsufficientFunds
	case errors.Is(err, ledger.ErrInsufficientGoods):
		return protocol.ErrInsufficientGoods
	case errors.Is(err, ledger.ErrUnknownAgent):
		return protocol.ErrUnknownAgent
	case errors.Is(err, settlement.ErrDuplicateID):
		return protocol.ErrDuplicateID
	case errors.Is(err, settlement.ErrNotMatching):
		return protocol.ErrTransactionNotMatching
	case errors.Is(err, settlement.ErrInvalidRequest),
		errors.Is(err, ledger.ErrUnknownGood),
		errors.Is(err, ledger.ErrInvalidTransfer):
		return protocol.ErrTransactionNotValid
	default:
		return protocol.ErrGeneric
	}
}
