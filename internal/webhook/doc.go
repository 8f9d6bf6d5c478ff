// Package webhook implements the HTTP surface of the gateway: signed webhook
// intake plus the read-only status endpoints.
//
// External services (GitHub) POST push payloads to /webhook/{project}. Every
// delivery must carry a valid HMAC-SHA256 signature in X-Hub-Signature-256,
// computed with the project's pre-shared secret.
//
// # Security Model
//
// - HMAC-SHA256 signatures verified with crypto/subtle (constant-time comparison)
// - Only the "sha256=<hex>" header form is accepted
// - Body size limits enforced before signature work
// - Optional per-IP rate limiting ahead of body reads
// - No signature details leaked in error responses (always a generic 403)
// - Request logging excludes payload content
//
// # Request Flow
//
//  1. HTTP POST arrives at /webhook/{project}
//  2. Project looked up (reject with 404 if unknown)
//  3. Rate limit checked per client IP (reject with 429 when configured)
//  4. Body size checked (reject with 413 if too large)
//  5. HMAC-SHA256 verified over the raw body (reject with 403 on mismatch)
//  6. Payload parsed (reject with 400 on malformed JSON)
//  7. Dispatcher runs the project's action sequence, blocking
//  8. 200 returned with the outcome message
//
// A verified delivery always answers 200, even when the gate checks skip it
// or actions fail, so the sender does not retry. The outcome is in the
// message: "All actions completed successfully" or "Webhook received but no
// action taken: <reason>".
//
// # Status Endpoints
//
// - GET /health: service status, configured projects, delivery counts, host snapshot
// - GET /projects: configured projects with their webhook URLs
// - GET /deliveries, /deliveries/{id}: the delivery log (admin token when set)
// - GET /events: SSE stream of the delivery lifecycle (admin token when set)
package webhook
