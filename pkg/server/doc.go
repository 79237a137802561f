// Package server exposes the rules service over HTTP.
//
// Routes:
//
//	POST   /v1/rules          create a rule
//	GET    /v1/rules          list rules (kind, enabled_only, filter, page, page_size)
//	GET    /v1/rules/{id}     fetch a rule
//	PUT    /v1/rules/{id}     replace a rule
//	DELETE /v1/rules/{id}     delete a rule
//	POST   /v1/evaluate       evaluate a transaction
//	GET    /v1/stats          per-rule execution statistics
//	GET    /v1/decisions      audited decisions (rule_id, since, until, blocked, limit, offset)
//	GET    /health            liveness with rule and cache summary
//	GET    /ready             readiness of store and feed
//	GET    /version           build information
//	GET    /metrics           Prometheus metrics
//
// Rules travel in the same document form used by rule files. Failures
// are reported as
//
//	{"success": false, "message": "...", "errors": [{"field": "...", "message": "...", "code": "..."}]}
//
// with 400 for malformed requests, 404 for unknown rules, 409 for
// duplicate ids, 422 for validation failures and 503 when the store is
// unavailable.
package server
