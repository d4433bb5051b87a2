package model

// PRStatus represents the triage outcome recorded for a pull request.
type PRStatus string

const (
	PRStatusPending    PRStatus = "pending"
	PRStatusSuccessful PRStatus = "successful"
	PRStatusFailed     PRStatus = "failed"
)

// CheckState is the state a CI check reports for one revision.
type CheckState string

const (
	CheckStateSuccess CheckState = "success"
	CheckStatePending CheckState = "pending"
	CheckStateError   CheckState = "error"
)

// Bucket is the disposition assigned to a check during one evaluation cycle.
type Bucket string

const (
	BucketSuccessful      Bucket = "successful"
	BucketPending         Bucket = "pending"
	BucketRetrying        Bucket = "retrying"
	BucketRetryPending    Bucket = "retry_pending"     // Failed, retry still cooling down.
	BucketTooManyFailures Bucket = "too_many_failures" // Failed, retry budget exhausted.
)
