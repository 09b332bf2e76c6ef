package ai

import "errors"

// ErrUnavailable indicates the reasoning gateway failed or is not
// configured. Recoverable: the evaluation engine falls back to its
// deterministic heuristic.
var ErrUnavailable = errors.New("reasoning gateway unavailable")
