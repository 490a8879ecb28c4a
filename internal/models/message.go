package models

// Message types.
const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

// MessageBody is the message payload. Only text in this core.
type MessageBody struct {
	Text string `json:"text"`
}

// Message is one entry in a room timeline. RoomSeq increments by exactly one
// per accepted message; Receipt is the ledger receipt of the action atom that
// recorded the send.
type Message struct {
	MsgID       string      `json:"msg_id"`
	TenantID    string      `json:"tenant_id"`
	RoomID      string      `json:"room_id"`
	RoomSeq     int64       `json:"room_seq"`
	SenderID    string      `json:"sender_id"`
	SentAt      string      `json:"sent_at"`
	Type        string      `json:"type"`
	Body        MessageBody `json:"body"`
	ReplyTo     string      `json:"reply_to,omitempty"`
	Attachments []string    `json:"attachments"`
	Receipt     *Receipt    `json:"receipt,omitempty"`
}

// SeenEntry records the outcome of a write keyed by client_request_id, so a
// retry returns the original result instead of a second message.
type SeenEntry struct {
	MsgID      string `json:"msg_id"`
	RoomSeq    int64  `json:"room_seq"`
	ReceiptSeq int64  `json:"receipt_seq"`
}
