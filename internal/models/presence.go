package models

// Presence is another user's live position as exchanged over the presence topic.
type Presence struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Username  string  `json:"username"`
}

// UserPresence pairs a presence record with the user it belongs to.
type UserPresence struct {
	UserID string `json:"user_id"`
	Presence
}

// PresenceSnapshot lists every known user's position, sorted by user id.
type PresenceSnapshot []UserPresence
