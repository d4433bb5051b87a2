package model

import (
	"fmt"
	"strings"
	"time"
)

// ChecksReport groups every classified check of one evaluation cycle into
// its disposition bucket. A check appears in exactly one bucket; ignored
// checks appear in none. The report is transient and recomputed each cycle.
type ChecksReport struct {
	Successful      []Check
	Pending         []Check
	Retrying        []Check
	RetryPending    []Check
	TooManyFailures []Check
}

// NewChecksReport returns an empty report ready to receive checks.
func NewChecksReport() *ChecksReport {
	return &ChecksReport{}
}

// Add places a check into the given bucket.
func (r *ChecksReport) Add(bucket Bucket, check Check) {
	switch bucket {
	case BucketSuccessful:
		r.Successful = append(r.Successful, check)
	case BucketPending:
		r.Pending = append(r.Pending, check)
	case BucketRetrying:
		r.Retrying = append(r.Retrying, check)
	case BucketRetryPending:
		r.RetryPending = append(r.RetryPending, check)
	case BucketTooManyFailures:
		r.TooManyFailures = append(r.TooManyFailures, check)
	}
}

// All returns every check in the report, bucket by bucket. The snapshot is
// taken at call time, so mutations made through the bucket slices (for
// example retry stamps) are reflected as long as All is called after them.
func (r *ChecksReport) All() []Check {
	all := make([]Check, 0, r.Len())
	all = append(all, r.Successful...)
	all = append(all, r.Pending...)
	all = append(all, r.Retrying...)
	all = append(all, r.RetryPending...)
	all = append(all, r.TooManyFailures...)
	return all
}

// Len returns the total number of classified checks.
func (r *ChecksReport) Len() int {
	return len(r.Successful) + len(r.Pending) + len(r.Retrying) + len(r.RetryPending) + len(r.TooManyFailures)
}

// StampRetried records now as the retry time on every check in the retrying
// bucket. Called once per cycle, after the bucket assignment is final.
func (r *ChecksReport) StampRetried(now time.Time) {
	for i := range r.Retrying {
		t := now
		r.Retrying[i].LastRetriedAt = &t
	}
}

// Table renders the report as a GFM markdown table (check, status,
// failures, last retried), used for notification bodies.
func (r *ChecksReport) Table() string {
	var b strings.Builder
	b.WriteString("| check | status | failures | last retried |\n")
	b.WriteString("| --- | --- | --- | --- |\n")

	rows := func(bucket Bucket, checks []Check) {
		for _, c := range checks {
			last := "-"
			if c.LastRetriedAt != nil {
				last = c.LastRetriedAt.UTC().Format("2006-01-02 15:04 MST")
			}
			// Check contexts are upstream text; keep pipes from breaking rows.
			name := strings.ReplaceAll(c.Context, "|", `\|`)
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n", name, bucket, c.FailureCount, last)
		}
	}

	rows(BucketSuccessful, r.Successful)
	rows(BucketPending, r.Pending)
	rows(BucketRetrying, r.Retrying)
	rows(BucketRetryPending, r.RetryPending)
	rows(BucketTooManyFailures, r.TooManyFailures)

	return b.String()
}
