package adapter

import "context"

// OutcomeVerifier abstracts the oracle and zk-proof validation
// collaborators: both take an evidence reference and answer yes/no.
type OutcomeVerifier interface {
	Name() string
	Verify(ctx context.Context, jobID, evidenceRef string) (bool, error)
}
