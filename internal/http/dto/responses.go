package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type ApprovalResponse struct {
	Project any `json:"project"`
	Escrow  any `json:"escrow,omitempty"`
	// EscrowPending is set when the processor was unavailable; escrow
	// creation is retried in the background.
	EscrowPending bool `json:"escrow_pending,omitempty"`
}

type UploadResponse struct {
	URL string `json:"url"`
}
