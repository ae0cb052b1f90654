package server

// Request payloads

type CreateRequestRequest struct {
	ReceiverID      string   `json:"receiver_id"`
	OfferedSkills   []string `json:"offered_skills"`
	RequestedSkills []string `json:"requested_skills"`
}

type RespondRequestRequest struct {
	Status string `json:"status"`
}

type ScheduleSessionRequest struct {
	RequestID       string `json:"request_id"`
	Date            string `json:"date" format:"date-time"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
}

type AddReviewRequest struct {
	RequestID string  `json:"request_id"`
	Rating    int     `json:"rating"`
	Comment   *string `json:"comment,omitempty"`
}

type UpdateReviewRequest struct {
	Rating  *int    `json:"rating,omitempty"`
	Comment *string `json:"comment,omitempty"`
}

type DevLoginRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	UserID         string  `json:"user_id"`
	DisplayName    string  `json:"display_name,omitempty"`
	Role           string  `json:"role,omitempty"`
	AverageRating  float64 `json:"average_rating"`
	TotalReviews   int     `json:"total_reviews"`
	CompletedSwaps int     `json:"completed_swaps"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
