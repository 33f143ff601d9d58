package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FeedbackKeyPrefix namespaces feedback entries in the key-value store.
const FeedbackKeyPrefix = "feedback:"

// Feedback is a stored, immutable feedback entry. CreatedAt is epoch
// milliseconds assigned by the server and is the only ordering key.
type Feedback struct {
	ID            string `json:"id"`
	CourseCode    string `json:"courseCode"`
	CourseName    string `json:"courseName"`
	FacultyName   string `json:"facultyName"`
	FacultyMobile string `json:"facultyMobile"`
	InternalMarks int    `json:"internalMarks"`
	Reason        string `json:"reason"`
	Rating        int    `json:"rating"`
	UserEmail     string `json:"userEmail"`
	CreatedAt     int64  `json:"createdAt"`
}

// FeedbackID builds the sortable store key of an entry.
func FeedbackID(createdAt int64, authorID string) string {
	return FeedbackKeyPrefix + strconv.FormatInt(createdAt, 10) + ":" + authorID
}

// UserName is the display name shown for the author: the local part of
// the author's email.
func (f Feedback) UserName() string {
	name, _, _ := strings.Cut(f.UserEmail, "@")
	return name
}

// MarshalJSON adds the derived userName to the encoded entry.
func (f Feedback) MarshalJSON() ([]byte, error) {
	type feedback Feedback
	return json.Marshal(struct {
		feedback
		UserName string `json:"userName"`
	}{
		feedback: feedback(f),
		UserName: f.UserName(),
	})
}

// CreateFeedbackRequest is the client payload of POST /feedback.
// Author fields are never taken from the client.
type CreateFeedbackRequest struct {
	CourseCode    string `json:"courseCode" validate:"required,coursecode"`
	FacultyName   string `json:"facultyName" validate:"required"`
	FacultyMobile string `json:"facultyMobile" validate:"required,number,len=10"`
	CourseName    string `json:"courseName" validate:"required"`
	InternalMarks *int   `json:"internalMarks" validate:"required,min=0,max=100"`
	Reason        string `json:"reason" validate:"required"`
	Rating        int    `json:"rating" validate:"required,min=1,max=5"`
}

// Normalize trims surrounding whitespace from the free-text fields.
func (r *CreateFeedbackRequest) Normalize() {
	r.CourseCode = strings.TrimSpace(r.CourseCode)
	r.FacultyName = strings.TrimSpace(r.FacultyName)
	r.FacultyMobile = strings.TrimSpace(r.FacultyMobile)
	r.CourseName = strings.TrimSpace(r.CourseName)
	r.Reason = strings.TrimSpace(r.Reason)
}
