package bridge

// Client-visible error codes. These are part of the wire protocol and
// must stay stable.
const (
	CodeInvalidCommand     = 1
	CodeConnectionFailed   = 2
	CodeSendCommandError   = 3
	CodeReceiveOutputError = 4
)

// Client-visible error messages. Connection failures share one code with
// a distinguishing message per failure class.
const (
	msgInvalidCommand = "Invalid command!"
	msgAuthError      = "Authentication error!"
	msgBadHostKey     = "Bad host key!"
	msgCouldNotConn   = "Could not connect."
	msgSocketClosed   = "Socket is closed."
	msgWriteTimeout   = "Timeout error."
)
