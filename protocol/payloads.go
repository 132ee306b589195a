package protocol

// Request payloads. Fields marked omitempty are optional on the wire;
// handlers apply defaults and validate the rest.

type CreateAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ListenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SendMessageRequest struct {
	SessionToken string `json:"session_token"`
	Recipient    string `json:"recipient"`
	Message      string `json:"message"`
}

type ReadMessagesRequest struct {
	SessionToken string `json:"session_token"`
	// Count selects how much of the queue to drain: nil drains
	// everything, negative reads the oldest |Count|, positive reads the
	// newest Count.
	Count *int `json:"count,omitempty"`
}

type ListAccountsRequest struct {
	SessionToken string `json:"session_token"`
	Pattern      string `json:"pattern,omitempty"`
	// Page and PageSize are pointers so an explicit non-positive value
	// is rejected rather than mistaken for absent-and-defaulted.
	Page     *int `json:"page,omitempty"`
	PageSize *int `json:"page_size,omitempty"`
}

type DeleteMessagesRequest struct {
	SessionToken string `json:"session_token"`
	NumToDelete  int    `json:"num_to_delete"`
}

type DeleteAccountRequest struct {
	SessionToken string `json:"session_token"`
}

type LogoutRequest struct {
	SessionToken string `json:"session_token"`
}

// Response payloads.

type LoginResponse struct {
	SessionToken       string `json:"session_token"`
	UnreadMessageCount int    `json:"unread_message_count"`
}

type ListenResponse struct {
	SessionToken string `json:"session_token"`
}

type UnreadMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

type ReadMessagesResponse struct {
	UnreadMessages       []UnreadMessage `json:"unread_messages"`
	RemainingUnreadCount int             `json:"remaining_unread_count"`
}

type ListAccountsResponse struct {
	Accounts   []string `json:"accounts"`
	Page       int      `json:"page"`
	TotalPages int      `json:"total_pages"`
}

type DeleteMessagesResponse struct {
	NumMessagesDeleted int `json:"num_messages_deleted"`
}

// ReceiveMessagePayload is pushed unsolicited over a listen channel.
type ReceiveMessagePayload struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}
