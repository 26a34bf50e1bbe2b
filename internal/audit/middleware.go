package audit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const noteKey = "audit.note"

// SetNote attaches business context, e.g. "Created racer id=42", to the event
// recorded for the current request. It must not contain request bodies or secrets.
func SetNote(c *gin.Context, note string) { c.Set(noteKey, note) }

func noteFrom(c *gin.Context) string {
	if v, ok := c.Get(noteKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Middleware records one event for every request the policy selects, after
// the rest of the chain has run. Whatever the handler does (succeeds, aborts,
// attaches errors or panics) the response is left untouched: a panic is
// recorded as 500 and re-raised for the recovery middleware.
//
// Register it inside gin.Recovery so re-raised panics still become a 500.
func Middleware(policy Policy, resolver Resolver, builder Builder, sink Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := c.Request
		if !policy.ShouldAudit(req.Method, req.URL.Path) {
			c.Next()
			return
		}

		facts := Facts{
			Method:       req.Method,
			Path:         req.URL.Path,
			Actor:        resolver.Resolve(req.Context(), req.Header),
			UserAgent:    req.UserAgent(),
			ForwardedFor: req.Header.Get("X-Forwarded-For"),
			RemoteAddr:   req.RemoteAddr,
		}
		// Persistence outlives the client connection.
		ctx := context.WithoutCancel(req.Context())

		defer func() {
			if rec := recover(); rec != nil {
				facts.Status = http.StatusInternalServerError
				if c.Writer.Written() {
					facts.Status = c.Writer.Status()
				}
				facts.Note = "panic"
				sink.Submit(ctx, builder.Build(facts))
				panic(rec)
			}
		}()

		c.Next()

		facts.Status = c.Writer.Status()
		if note := noteFrom(c); note != "" {
			facts.Note = note
		} else if err := c.Errors.Last(); err != nil {
			// Type only; error text can echo request input.
			facts.Note = fmt.Sprintf("error: %T", err.Err)
		}
		sink.Submit(ctx, builder.Build(facts))
	}
}
