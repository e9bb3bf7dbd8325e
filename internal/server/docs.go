// This file contains general API documentation annotations for Swag/OpenAPI
// generation. Individual endpoint annotations live in the handler files.

package server

// @title RDDM API
// @version 1.0
// @description REST API for collaborative editing of project elements, relationships, and views.
// @description
// @description Features:
// @description - Element and relationship CRUD with optimistic versioning
// @description - Saved view state and change history
// @description - Real-time change feeds via WebSocket and Server-Sent Events
// @description - In-memory read caching
//
// @host localhost:3000
// @BasePath /api/v1
