package model

import "time"

// Comment is a pull-request-level issue comment on the host. Only the
// fields the comment-based retry strategy needs are carried.
type Comment struct {
	ID        int64
	Body      string
	CreatedAt time.Time
}
