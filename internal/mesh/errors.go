package mesh

import "errors"

// Sentinel errors for the mesh transport engine. Every inbound validation
// failure maps to one of these and results in the frame being dropped; the
// processing loop never propagates them past Process() except as a logged
// "error blink" callback. Every outbound failure maps to one of these and
// is returned to the caller of Send/SendRoute.
var (
	// ErrProtocolVersionMismatch indicates a received frame's Version
	// field does not match ProtocolVersion.
	ErrProtocolVersionMismatch = errors.New("mesh: protocol version mismatch")

	// ErrUnsignedButRequired indicates a received frame addressed to us
	// required a signature but did not carry the signed bit.
	ErrUnsignedButRequired = errors.New("mesh: message required signature but was unsigned")

	// ErrSignatureVerifyFailed indicates a received frame's signature did
	// not verify.
	ErrSignatureVerifyFailed = errors.New("mesh: signature verification failed")

	// ErrNonceTimeout indicates the signing coordinator's bounded wait for
	// GET_NONCE_RESPONSE expired.
	ErrNonceTimeout = errors.New("mesh: timed out waiting for nonce")

	// ErrSignFailed indicates the Signer rejected a sign request.
	ErrSignFailed = errors.New("mesh: signing failed")

	// ErrNoParent indicates SendRoute was called with no parent assigned.
	ErrNoParent = errors.New("mesh: no parent assigned")

	// ErrNoNodeID indicates SendRoute was called before a node id was
	// assigned.
	ErrNoNodeID = errors.New("mesh: no node id assigned")

	// ErrRadioSendFailed indicates the Radio driver reported a failed
	// transmission.
	ErrRadioSendFailed = errors.New("mesh: radio send failed")

	// ErrRouteUnknownAtGateway indicates a gateway repeater could not
	// resolve a downstream route for a non-broadcast destination.
	ErrRouteUnknownAtGateway = errors.New("mesh: route unknown at gateway")

	// ErrFlashInitFailed indicates Flash.Init failed when opening an OTA
	// session.
	ErrFlashInitFailed = errors.New("mesh: flash init failed")

	// ErrFirmwareChecksumFailed indicates the completed OTA image failed
	// CRC-16 verification.
	ErrFirmwareChecksumFailed = errors.New("mesh: firmware checksum failed")

	// ErrFirmwareSessionExhausted indicates an OTA block request ran out
	// of retries with no response.
	ErrFirmwareSessionExhausted = errors.New("mesh: firmware session exhausted retries")

	// ErrPoolExhausted indicates the gateway's id pool was exhausted
	// (ID_RESPONSE carried AutoAddr). This is fatal: the node halts
	// rather than spin forever.
	ErrPoolExhausted = errors.New("mesh: gateway id pool exhausted")
)
