package protocol

// FindMatch is the find_match request.
type FindMatch struct {
	UserID     string `json:"userId"`
	Age        int    `json:"age"`
	Gender     string `json:"gender"`
	Preference string `json:"preference"`
}

// OutgoingMessage is a chat line sent by the client.
type OutgoingMessage struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// IncomingMessage is a chat line delivered by the server.
type IncomingMessage struct {
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// ReportUser is an abuse report against the peer of RoomID.
type ReportUser struct {
	RoomID     string `json:"roomId"`
	Reason     string `json:"reason"`
	ReporterID string `json:"reporterId"`
}

// EndChat terminates RoomID voluntarily.
type EndChat struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// MatchFound announces the room of a new pairing.
type MatchFound struct {
	RoomID string `json:"roomId"`
}

// MatchError carries the reason a pairing failed.
type MatchError struct {
	Message string `json:"message"`
}

// Typing is the peer typing indicator. The client fills RoomID and Sender
// when it announces its own typing; the server forwards only IsTyping.
type Typing struct {
	RoomID   string `json:"roomId,omitempty"`
	Sender   string `json:"sender,omitempty"`
	IsTyping bool   `json:"isTyping"`
}
