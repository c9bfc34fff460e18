package protocol

const (
	// Transport / envelope.
	ErrGeneric          = "E_GENERIC"
	ErrRequestNotValid  = "E_REQUEST_NOT_VALID"
	ErrBadVersion       = "E_BAD_VERSION"
	ErrUnknownGame      = "E_UNKNOWN_GAME"
	ErrAlreadyConnected = "E_ALREADY_CONNECTED"
	ErrBadToken         = "E_BAD_TOKEN"

	// Registration.
	ErrAgentAlreadyRegistered     = "E_AGENT_ALREADY_REGISTERED"
	ErrAgentNameAlreadyRegistered = "E_AGENT_NAME_ALREADY_REGISTERED"
	ErrAgentNameNotInWhitelist    = "E_AGENT_NAME_NOT_IN_WHITELIST"
	ErrAgentNotRegistered         = "E_AGENT_NOT_REGISTERED"
	ErrRegistrationClosed         = "E_REGISTRATION_CLOSED"

	// Trading.
	ErrCompetitionNotRunning  = "E_COMPETITION_NOT_RUNNING"
	ErrTransactionNotValid    = "E_TRANSACTION_NOT_VALID"
	ErrTransactionNotMatching = "E_TRANSACTION_NOT_MATCHING"
	ErrInsufficientFunds      = "E_INSUFFICIENT_FUNDS"
	ErrInsufficientGoods      = "E_INSUFFICIENT_GOODS"
	ErrDuplicateID            = "E_DUPLICATE_ID"
	ErrUnknownAgent           = "E_UNKNOWN_AGENT"
)

var knownCodes = map[string]struct{}{
	ErrGeneric:                    {},
	ErrRequestNotValid:            {},
	ErrBadVersion:                 {},
	ErrUnknownGame:                {},
	ErrAlreadyConnected:           {},
	ErrBadToken:                   {},
	ErrAgentAlreadyRegistered:     {},
	ErrAgentNameAlreadyRegistered: {},
	ErrAgentNameNotInWhitelist:    {},
	ErrAgentNotRegistered:         {},
	ErrRegistrationClosed:         {},
	ErrCompetitionNotRunning:      {},
	ErrTransactionNotValid:        {},
	ErrTransactionNotMatching:     {},
	ErrInsufficientFunds:          {},
	ErrInsufficientGoods:          {},
	ErrDuplicateID:                {},
	ErrUnknownAgent:               {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
