package server

// Typed request shapes re-decoded from envelopes per type
// discriminator. Unknown envelope fields are ignored.

type authRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	RequestID string `json:"request_id"`
}

type sendMessageRequest struct {
	To        string `json:"to"`
	Message   string `json:"message"`
	ReplyTo   int64  `json:"reply_to"`
	RequestID string `json:"request_id"`
}

type chatHistoryRequest struct {
	Username  string `json:"username"`
	Friend    string `json:"friend"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
	RequestID string `json:"request_id"`
}

type sendMediaRequest struct {
	To        string `json:"to"`
	FileName  string `json:"file_name"`
	FileType  string `json:"file_type"`
	Message   string `json:"message"`
	ReplyTo   int64  `json:"reply_to"`
	FileData  string `json:"file_data"`
	TotalSize int64  `json:"total_size"`
	RequestID string `json:"request_id"`
}
