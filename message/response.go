package message

import "time"

// Response is the reply half of a correlated exchange. A handler returns a
// Response from Handle to settle the sender's pending request; the bus
// synthesizes failure responses for timeouts and delivery errors.
type Response struct {
	MessageID     string    `json:"message_id"`
	CorrelationID string    `json:"correlation_id"`
	Success       bool      `json:"success"`
	Data          any       `json:"data,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewResponse creates a successful response to the given message.
func NewResponse(msg *Message, data any) *Response {
	return &Response{
		MessageID:     msg.ID,
		CorrelationID: msg.CorrelationID,
		Success:       true,
		Data:          data,
		Timestamp:     time.Now(),
	}
}

// NewErrorResponse creates a failure response to the given message.
func NewErrorResponse(msg *Message, err error) *Response {
	resp := &Response{
		MessageID:     msg.ID,
		CorrelationID: msg.CorrelationID,
		Success:       false,
		Timestamp:     time.Now(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
