package wallet

import (
	"errors"
	"fmt"
)

var (
	ErrNoWallet       = errors.New("no wallet provider")
	ErrUnknownNetwork = errors.New("unknown network")
	ErrNoAccounts     = errors.New("no accounts returned")
)

// Provider error codes from EIP-1193 / EIP-3326.
const (
	CodeUserRejected      = 4001
	CodeUnrecognizedChain = 4902
)

type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindUserRejected
	KindUnrecognizedChain
)

func (k ErrorKind) String() string {
	switch k {
	case KindUserRejected:
		return "user rejected"
	case KindUnrecognizedChain:
		return "unrecognized chain"
	default:
		return "other"
	}
}

// ProviderError is the raw {code, message} error a provider returns.
type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// WalletError is a provider error decoded into a kind the manager can act on.
type WalletError struct {
	Kind    ErrorKind
	Code    int
	Message string
	Err     error
}

func (e *WalletError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *WalletError) Unwrap() error { return e.Err }

// Decode classifies err. Errors that carry no provider code (transport
// failures, context cancellation) become KindOther.
func Decode(err error) *WalletError {
	if err == nil {
		return nil
	}
	var we *WalletError
	if errors.As(err, &we) {
		return we
	}

	var pe *ProviderError
	if !errors.As(err, &pe) {
		return &WalletError{Kind: KindOther, Message: err.Error(), Err: err}
	}

	out := &WalletError{Code: pe.Code, Message: pe.Message, Err: err}
	switch pe.Code {
	case CodeUserRejected:
		out.Kind = KindUserRejected
	case CodeUnrecognizedChain:
		out.Kind = KindUnrecognizedChain
	default:
		out.Kind = KindOther
	}
	return out
}

// IsUserRejected reports whether the user declined the wallet prompt.
func IsUserRejected(err error) bool {
	we := Decode(err)
	return we != nil && we.Kind == KindUserRejected
}
