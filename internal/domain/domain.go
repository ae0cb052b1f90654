package domain

// RequestStatus is the negotiation state of a swap request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestDeclined  RequestStatus = "declined"
	RequestScheduled RequestStatus = "scheduled"
	RequestCompleted RequestStatus = "completed"
)

// CanTransition reports whether moving to the given status is a legal
// forward transition. declined and completed are terminal.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	switch s {
	case RequestPending:
		return to == RequestAccepted || to == RequestDeclined
	case RequestAccepted:
		return to == RequestScheduled || to == RequestCompleted
	case RequestScheduled:
		return to == RequestCompleted
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestDeclined || s == RequestCompleted
}

// SessionStatus is the lifecycle state of a scheduled session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

func (s SessionStatus) CanTransition(to SessionStatus) bool {
	return s == SessionScheduled && (to == SessionCompleted || to == SessionCancelled)
}

// NotificationKind categorizes stored notifications.
type NotificationKind string

const (
	NotifyRequest  NotificationKind = "request"
	NotifyReview   NotificationKind = "review"
	NotifySchedule NotificationKind = "schedule"
	NotifySystem   NotificationKind = "system"
)

type User struct {
	ID             string   `json:"id"`
	DisplayName    string   `json:"display_name"`
	Role           string   `json:"role"`
	SkillsOffered  []string `json:"skills_offered,omitempty"`
	SkillsWanted   []string `json:"skills_wanted,omitempty"`
	AverageRating  float64  `json:"average_rating"`
	TotalReviews   int      `json:"total_reviews"`
	CompletedSwaps int      `json:"completed_swaps"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}

type Request struct {
	ID              string        `json:"id"`
	SenderID        string        `json:"sender_id"`
	ReceiverID      string        `json:"receiver_id"`
	OfferedSkills   []string      `json:"offered_skills"`
	RequestedSkills []string      `json:"requested_skills"`
	Status          RequestStatus `json:"status" enum:"pending,accepted,declined,scheduled,completed"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
	UpdatedAt       string        `json:"updated_at" format:"date-time"`
}

type Session struct {
	ID              string        `json:"id"`
	RequestID       string        `json:"request_id"`
	RequesterID     string        `json:"requester_id"`
	ProviderID      string        `json:"provider_id"`
	Date            string        `json:"date" format:"date-time"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          SessionStatus `json:"status" enum:"scheduled,completed,cancelled"`
	RemindedAt      *string       `json:"reminded_at,omitempty" format:"date-time"`
	CompletedAt     *string       `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
}

// SessionView is a session joined with the skill payload of its
// originating request, the shape list endpoints return.
type SessionView struct {
	Session
	OfferedSkills   []string `json:"offered_skills"`
	RequestedSkills []string `json:"requested_skills"`
}

type Review struct {
	ID             string `json:"id"`
	ReviewerID     string `json:"reviewer_id"`
	ReviewedUserID string `json:"reviewed_user_id"`
	RequestID      string `json:"request_id"`
	Rating         int    `json:"rating" minimum:"1" maximum:"5"`
	Comment        string `json:"comment,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

// ReviewView is a review joined with the reviewer's display name.
type ReviewView struct {
	Review
	ReviewerName string `json:"reviewer_name"`
}

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"kind" enum:"request,review,schedule,system"`
	IsRead    bool             `json:"is_read"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
