// Package handlers provides the HTTP handlers of the RDDM API.
//
// Handlers are organized by resource:
//
//   - projects.go: project records
//   - elements.go: element listing, retrieval, and mutations
//   - relationships.go: relationship listing, retrieval, and mutations
//   - views.go: saved view state
//   - history.go: change history
//   - stats.go: statistics and metrics
//   - health.go: health and readiness checks
//   - realtime.go: WebSocket and SSE change feeds
//   - openapi.go: OpenAPI specification endpoints
//
// Reads follow one pattern:
//
//  1. Check the cache
//  2. Load from the store
//  3. Filter and paginate
//  4. Cache the result unless the project changed meanwhile
//  5. Return the response
//
// Mutations commit to the store, invalidate the project's cached reads, and
// publish one change envelope per affected entity.
package handlers
