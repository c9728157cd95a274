package codes

// Session states, in lifecycle order.
const (
	SessionNew           = "new"
	SessionHandshaking   = "tls_handshaking" // TLS only
	SessionBoundPending  = "bound_pending"
	SessionPaused        = "paused" // during bind processing
	SessionAuthenticated = "authenticated"
	SessionClosed        = "closed"
)

// Receipt stat values carried in deliver_sm receipt text.
const (
	ReceiptDelivered     = "DELIVRD"
	ReceiptAccepted      = "ACCEPTD"
	ReceiptUndeliverable = "UNDELIV"
	ReceiptRejected      = "REJECTD"
	ReceiptExpired       = "EXPIRED"
	ReceiptUnknown       = "UNKNOWN"
)

// Delivery error codes reported by the downstream sender.
const (
	ErrorCodeNone           = ""
	ErrorCodeMnoUnavailable = "MNO_UNAVAILABLE"
	ErrorCodeMnoTimeout     = "MNO_TIMEOUT"
	ErrorCodeMnoSubmitFail  = "MNO_SUBMIT_FAIL"
	ErrorCodeSystemError    = "SYS_ERR"
)
