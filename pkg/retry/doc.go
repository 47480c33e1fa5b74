// Package retry runs operations under exponential backoff with jitter.
//
// It is deliberately small: no circuit breaking, no metrics, no error
// classification beyond a single non-retryable marker. Callers decide
// what is worth repeating; this package only decides when.
//
// Typical use:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Connect()
//	})
//
// Operations that produce a value go through DoWithResult:
//
//	bucket, err := retry.DoWithResult(ctx, retry.Persistent(), func() (jetstream.KeyValue, error) {
//	    return js.KeyValue(ctx, bucketName)
//	})
//
// Wrap an error with NonRetryable when repeating it is pointless, for
// example a validation failure discovered mid-operation; Do returns it
// immediately without burning the remaining attempts.
//
// All waits honor context cancellation, both between attempts and while
// sleeping. Every function is safe for concurrent use.
package retry
