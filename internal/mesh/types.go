// Package mesh implements the node-side transport engine of a multi-hop,
// self-healing low-power sensor mesh: the message codec, routing table,
// parent discovery, signing coordinator, OTA session and the processing
// loop that ties them together.
package mesh

import "fmt"

// Address identifies a node on the mesh. 1 byte, wire-exact.
type Address uint8

const (
	// GatewayAddr is the reserved address of the mesh gateway.
	GatewayAddr Address = 0

	// BroadcastAddr is the reserved address meaning "all nodes".
	BroadcastAddr Address = 255

	// AutoAddr is the sentinel meaning "not yet assigned". It shares its
	// wire value with BroadcastAddr; the two are disambiguated by field
	// context (NodeID/ParentID vs. Destination), exactly as the firmware
	// this engine replaces overloads 255 for both meanings.
	AutoAddr Address = 255
)

// IsValidNodeID reports whether addr is a legal assigned node id (1..254).
func (a Address) IsValidNodeID() bool {
	return a > GatewayAddr && a < BroadcastAddr
}

func (a Address) String() string {
	switch a {
	case GatewayAddr:
		return "gateway"
	case BroadcastAddr:
		return "broadcast"
	default:
		return fmt.Sprintf("node(%d)", uint8(a))
	}
}

// DistanceUnknown marks a node whose hop count to the gateway has not yet
// been established.
const DistanceUnknown uint8 = 255

// Command is the 3-bit message class.
type Command uint8

const (
	CommandPresentation Command = iota
	CommandSet
	CommandReq
	CommandInternal
	CommandStream
)

func (c Command) String() string {
	switch c {
	case CommandPresentation:
		return "PRESENTATION"
	case CommandSet:
		return "SET"
	case CommandReq:
		return "REQ"
	case CommandInternal:
		return "INTERNAL"
	case CommandStream:
		return "STREAM"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// PayloadType is the 4-bit payload encoding tag.
type PayloadType uint8

const (
	PayloadString PayloadType = iota
	PayloadByte
	PayloadInt
	PayloadLong
	PayloadFloat
	PayloadCustom
)

func (p PayloadType) String() string {
	switch p {
	case PayloadString:
		return "string"
	case PayloadByte:
		return "byte"
	case PayloadInt:
		return "int"
	case PayloadLong:
		return "long"
	case PayloadFloat:
		return "float"
	case PayloadCustom:
		return "custom"
	default:
		return fmt.Sprintf("PayloadType(%d)", uint8(p))
	}
}

// Internal message subtypes (Command == CommandInternal).
const (
	TypePresentation uint8 = iota
	TypeIDRequest
	TypeIDResponse
	TypeFindParent
	TypeFindParentResponse
	TypeGetNonce
	TypeGetNonceResponse
	TypeRequestSigning
	TypeHeartbeat
	TypeHeartbeatResponse
	TypeDiscover
	TypeDiscoverResponse
)

// Stream message subtypes (Command == CommandStream) -- firmware OTA.
const (
	TypeFirmwareConfigRequest uint8 = iota
	TypeFirmwareConfigResponse
	TypeFirmwareRequest
	TypeFirmwareResponse
)

// ProtocolVersion is the wire protocol version this engine speaks.
// Messages carrying a different version are dropped on receipt.
const ProtocolVersion uint8 = 2

// Wire-format limits. HeaderSize is the encoded size of every field in the
// Message struct up to and including Type. MaxMessageLength is the hard
// ceiling for a frame so it fits a single radio packet; MaxPayload is what
// remains for application data.
const (
	HeaderSize       = 8
	MaxMessageLength = 32
	MaxPayload       = MaxMessageLength - HeaderSize
)
