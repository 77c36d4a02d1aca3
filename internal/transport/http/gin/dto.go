package httpgin

type CreateBookingRequest struct {
	EventID string `json:"event_id" binding:"required"`
}

type AckResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
