// Package retrier implements the Retrier port's remediation strategies.
//
// A strategy re-triggers failed checks upstream: git-amend-push rewrites
// the head commit so every check re-runs on a fresh revision, while the
// comment strategy posts per-check re-run directives for CI systems that
// listen for them.
package retrier

import (
	"fmt"

	"github.com/nlecoy/recheck/internal/config"
	"github.com/nlecoy/recheck/internal/domain/port/driven"
)

// Deps carries the collaborators shared by every retry strategy.
type Deps struct {
	// Host is the source-code host client, used for branch lookups and
	// comment management.
	Host driven.HostClient
	// User is the login comments are authored as.
	User string
}

// New returns the retry strategy registered under name for one repository.
// config.Load validates strategy names up front, so an unknown name here
// means the registries went out of sync.
func New(name string, deps Deps, repo string, cfg *config.Config) (driven.Retrier, error) {
	switch name {
	case config.RetrierGitAmendPush:
		rc, _ := cfg.Repository(repo)
		return NewGitPushRetrier(deps.Host, repo, rc.Git), nil
	case config.RetrierComment:
		return NewCommentRetrier(deps.Host, deps.User, cfg), nil
	default:
		return nil, fmt.Errorf("unknown retrier %q", name)
	}
}
