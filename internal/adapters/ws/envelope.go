package ws

const (
	TypeLoad        = "load"
	TypeUpdate      = "update"
	TypeChat        = "chat"
	TypeEditable    = "editable"
	TypeJoin        = "join"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeRoomDeleted = "room-deleted"
	TypeError       = "error"
)

// Envelope is the wire frame. Update and State carry opaque CRDT binaries,
// base64-encoded by the JSON codec.
type Envelope struct {
	Type     string `json:"type"`
	Update   []byte `json:"update,omitempty"`
	Text     string `json:"text,omitempty"`
	State    []byte `json:"state,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Body     string `json:"body,omitempty"`
	Editable *bool  `json:"editable,omitempty"`
	Mode     string `json:"mode,omitempty"`
}
