// Package llm layers cross-cutting concerns over the thin provider clients
// in internal/llmclient. Clients stay focused on the API call; retries and
// logging are composed here.
package llm

import (
	"stride/internal/llmclient"
)

// Middleware wraps a structured client with additional behavior.
type Middleware func(next llmclient.Client) llmclient.Client

// Chain applies middlewares left to right: the first listed is the
// outermost layer.
func Chain(c llmclient.Client, mws ...Middleware) llmclient.Client {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}
