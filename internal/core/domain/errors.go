package domain

import "errors"

// ErrInvariant marks a violated job invariant (malformed range, missing
// range field for the kind). Fatal to the job, never to the process.
var ErrInvariant = errors.New("job invariant violation")
