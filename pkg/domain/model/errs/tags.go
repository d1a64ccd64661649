package errs

import "github.com/m-mizutani/goerr/v2"

var (
	// Client errors (4xx)
	TagNotFound       = goerr.NewTag("not_found")       // 404
	TagValidation     = goerr.NewTag("validation")      // 400
	TagInvalidRequest = goerr.NewTag("invalid_request") // 400
	TagUnauthorized   = goerr.NewTag("unauthorized")    // 401
	TagConflict       = goerr.NewTag("conflict")        // 409

	// Server errors (5xx)
	TagInternal = goerr.NewTag("internal") // 500
	TagExternal = goerr.NewTag("external") // 502/503
	TagTimeout  = goerr.NewTag("timeout")  // 504
	TagDatabase = goerr.NewTag("database") // 500 (specific to store errors)

	// Dispatch errors
	TagTransient     = goerr.NewTag("transient")     // retried on a later tick
	TagUndeliverable = goerr.NewTag("undeliverable") // chat delivery exhausted its retries
	TagInvariant     = goerr.NewTag("invariant")     // broken core invariant, logged loudly

	// External service errors
	TagSlackError = goerr.NewTag("slack_error")
	TagAuthError  = goerr.NewTag("auth_error")
)
