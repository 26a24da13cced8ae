package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultImageName is used when a submission carries image data without a name
const DefaultImageName = "image.jpg"

// Submission is the payload posted by the capture client
type Submission struct {
	Username    string     `json:"username" validate:"max=64"`
	ArduinoData RawReading `json:"arduino_data"`
	ImageName   string     `json:"image_name" validate:"max=255"`
	ImageData   string     `json:"image_data,omitempty"`
}

// HasImage reports whether the submission carries image data
func (s Submission) HasImage() bool {
	return strings.TrimSpace(s.ImageData) != ""
}

// RawReading is the device value as sent by the client. Devices and older
// clients send either a JSON string or a bare number; both decode to text.
type RawReading string

// UnmarshalJSON accepts a string, a number or null
func (r *RawReading) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RawReading(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = RawReading(n.String())
	return nil
}

// ParseReading converts a raw device reading into a count. The boolean is
// false when the value was not an integer and 0 was substituted.
func ParseReading(raw RawReading) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SubmitResponse is the envelope returned by the submission endpoint
type SubmitResponse struct {
	Status       string            `json:"status"`
	Message      string            `json:"message"`
	EntryDetails *LeaderboardEntry `json:"entry_details,omitempty"`
}

// Response statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
