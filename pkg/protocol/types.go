package protocol

// Message types relayed over the signaling websocket.
const (
	TypeRoomInfo = "room_info"
	TypeOffer    = "offer"
	TypeAnswer   = "answer"
)

// Roles a websocket member can take in a room.
const (
	RoleServer = "server"
	RoleClient = "client"
)

// Close reasons sent by the signaling server in websocket close frames.
const (
	ReasonPeerLeft     = "peer left"
	ReasonRoomExpired  = "room expired"
	ReasonRoomFull     = "room full"
	ReasonRoomNotFound = "room not found"
)

// Path of the websocket endpoint.
const RoomsPath = "/ws/rooms"
