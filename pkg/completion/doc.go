// Package completion sends an assembled conversation to a hosted language model
// and returns the text of the first generated choice.
//
// Invariants:
// - Every failure returned by Client.Complete is a *UnavailableError matching ErrUnavailable.
// - Only transient failures (transport, rate limit, server, timeout) are retried.
// - Each attempt is bounded by its own timeout; a cancelled caller context stops retries.
//
// Usage:
//
//	provider, _ := completion.NewProvider(completion.ProviderOpenAI, completion.ProviderOptions{APIKey: key})
//	client, _ := completion.NewClient(provider, completion.DefaultConfig(), logger)
//	reply, err := client.Complete(ctx, messages)
package completion
