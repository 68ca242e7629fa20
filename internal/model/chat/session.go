package chat

import "time"

// Session is one bounded conversation between a user and the assistant about a patient.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	PatientID       string    `json:"patientId"`
	SessionStart    time.Time `json:"sessionStart"`
	Messages        []Message `json:"messages"`
	ReportsIncluded bool      `json:"reportsIncluded"`
	LastFetchTime   time.Time `json:"lastFetchTime"`
}

// ContentSize returns the summed byte length of every message body.
func (s Session) ContentSize() int {
	size := 0
	for _, m := range s.Messages {
		size += len(m.Content)
	}
	return size
}
