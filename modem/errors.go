package modem

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if initialization failed or if the Dialer handed back
	// no transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrClosed is returned when the byte channel to the modem is gone, either
	// because the Modem was closed or because the transport reported an error.
	ErrClosed = errors.New("modem channel closed")

	// ErrLoopRunning is returned by Run when a maintenance loop is already active.
	ErrLoopRunning = errors.New("maintenance loop already running")

	// ErrTimeout is returned when none of the expected terminators arrived
	// within the time budget of a transaction.
	//
	// It is a recoverable condition; callers decide whether to retry.
	ErrTimeout = errors.New("no response within timeout")

	// ErrProtocol is returned when the modem answered with ERROR, +CME ERROR
	// or +CMS ERROR.
	ErrProtocol = errors.New("modem reported error")

	// ErrUnbound is returned by socket operations on a socket that no longer
	// owns a mux slot.
	ErrUnbound = errors.New("socket not bound to a mux slot")

	// ErrInvalidMux is returned for mux numbers outside [0, MuxCount).
	ErrInvalidMux = errors.New("mux out of range")

	// ErrMuxInUse is returned when a socket is requested on a mux slot that
	// is already owned by another socket.
	ErrMuxInUse = errors.New("mux slot already in use")

	// ErrMalformedNotification marks notifications whose numeric fields are
	// out of the sane range. Such values are logged and never trusted.
	ErrMalformedNotification = errors.New("malformed notification")

	// ErrUnexpectedReset is returned by Maintain once the modem announced a
	// restart in the middle of a session. The caller must run Reinit.
	ErrUnexpectedReset = errors.New("unexpected module reset")

	// ErrInvalidParameter is returned for host or certificate names that
	// cannot be quoted into an AT command line: they contain a double quote
	// or a control byte.
	ErrInvalidParameter = errors.New("invalid command parameter")

	// ErrInvalidConfig is returned for negative sizes, counts or timeouts.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSendFailed is returned when the modem did not accept a payload.
	// No partial writes are reported.
	ErrSendFailed = errors.New("send not acknowledged")
)

// OpenResult is the result code the modem reports for AT+CAOPEN.
type OpenResult int

const (
	OpenSuccess             OpenResult = 0
	OpenSocketError         OpenResult = 1
	OpenNoMemory            OpenResult = 2
	OpenConnectionLimit     OpenResult = 3
	OpenInvalidParameter    OpenResult = 4
	OpenInvalidAddress      OpenResult = 6
	OpenUnsupported         OpenResult = 7
	OpenCannotBind          OpenResult = 12
	OpenCannotListen        OpenResult = 13
	OpenUnresolvableHost    OpenResult = 20
	OpenNetworkInactive     OpenResult = 21
	OpenRemoteRefused       OpenResult = 23
	OpenCertExpired         OpenResult = 24
	OpenCertNameMismatch    OpenResult = 25
	OpenCertMismatchExpired OpenResult = 26
	OpenConnectFailed       OpenResult = 27
	OpenNoResult            OpenResult = -1
)

func (r OpenResult) String() string {
	switch r {
	case OpenSuccess:
		return "success"
	case OpenSocketError:
		return "socket error"
	case OpenNoMemory:
		return "out of memory"
	case OpenConnectionLimit:
		return "connection limit exceeded"
	case OpenInvalidParameter:
		return "invalid parameter"
	case OpenInvalidAddress:
		return "invalid address"
	case OpenUnsupported:
		return "not supported"
	case OpenCannotBind:
		return "cannot bind port"
	case OpenCannotListen:
		return "cannot listen on port"
	case OpenUnresolvableHost:
		return "cannot resolve host"
	case OpenNetworkInactive:
		return "network not active"
	case OpenRemoteRefused:
		return "remote refused"
	case OpenCertExpired:
		return "certificate expired"
	case OpenCertNameMismatch:
		return "certificate name mismatch"
	case OpenCertMismatchExpired:
		return "certificate name mismatch and expired"
	case OpenConnectFailed:
		return "connect failed"
	case OpenNoResult:
		return "no result"
	default:
		return fmt.Sprintf("code %d", int(r))
	}
}

// OpenError reports a connect attempt the modem rejected. Code carries the
// modem's result code verbatim.
type OpenError struct {
	Mux  int
	Code OpenResult
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open mux %d: %s (%d)", e.Mux, e.Code, int(e.Code))
}

// result maps a terminator index of a plain OK/ERROR transaction to an error.
func result(index int) error {
	switch index {
	case 1:
		return nil
	case 0:
		return ErrTimeout
	default:
		return ErrProtocol
	}
}
