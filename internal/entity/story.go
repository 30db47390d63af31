package entity

import "strings"

// Story - the immutable snapshot produced when a room is finished.
type Story struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	WriterNames []string `json:"writers"`
}

// Byline - renders the writer names as "a, b & c".
func (that *Story) Byline() string {
	switch len(that.WriterNames) {
	case 0:
		return ""
	case 1:
		return that.WriterNames[0]
	}

	last := len(that.WriterNames) - 1

	return strings.Join(that.WriterNames[:last], ", ") + " & " + that.WriterNames[last]
}
