package domain

import "errors"

// InputRef describes one task input: a platform message carrying media, a
// URL, or a torrent magnet. Index is stable and preserves user order through
// the whole pipeline.
type InputRef struct {
	Index     int    `json:"index"`
	MessageID int64  `json:"messageId,omitempty"`
	URL       string `json:"url,omitempty"`
	Magnet    string `json:"magnet,omitempty"`
	Name      string `json:"name,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// Validate checks that exactly one source is set.
func (r InputRef) Validate() error {
	sources := 0
	if r.MessageID != 0 {
		sources++
	}
	if r.URL != "" {
		sources++
	}
	if r.Magnet != "" {
		sources++
	}
	if sources != 1 {
		return errors.New("input must have exactly one of message, url or magnet")
	}
	if r.Index < 0 {
		return errors.New("input index must not be negative")
	}
	return nil
}

// Downloaded pairs an input index with the local path produced for it.
type Downloaded struct {
	Index int
	Path  string
}
