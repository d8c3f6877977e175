package model

import "time"

// Article is the single persisted content record.
type Article struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Date    time.Time `json:"date"`
}

// ArticleUpdate carries the editable fields of an article. A nil field keeps
// the stored value.
type ArticleUpdate struct {
	Title   *string
	Content *string
}

// Apply returns a copy of a with the non-nil fields of u applied. ID and Date
// are never touched.
func (u ArticleUpdate) Apply(a Article) Article {
	if u.Title != nil {
		a.Title = *u.Title
	}
	if u.Content != nil {
		a.Content = *u.Content
	}
	return a
}

// Empty reports whether the update changes nothing.
func (u ArticleUpdate) Empty() bool {
	return u.Title == nil && u.Content == nil
}
