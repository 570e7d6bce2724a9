package domain

import "time"

// StoryTTL - окно видимости истории.
const StoryTTL = 24 * time.Hour

type Story struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	MediaRef  string    `json:"media_ref,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	Caption   string    `json:"caption"`
	CreatedAt time.Time `json:"created_at"`
	Viewers   []string  `json:"viewers"`
}

// ActiveAt - видимость вычисляется, а не хранится.
func (s *Story) ActiveAt(now time.Time) bool {
	return now.Sub(s.CreatedAt) < StoryTTL
}

func (s *Story) ExpiresAt() time.Time {
	return s.CreatedAt.Add(StoryTTL)
}

func (s *Story) ViewedBy(uid string) bool {
	for _, v := range s.Viewers {
		if v == uid {
			return true
		}
	}
	return false
}

type StoryGroup struct {
	AuthorID   string   `json:"author_id"`
	AuthorName string   `json:"author_name"`
	Stories    []*Story `json:"stories"`
}
