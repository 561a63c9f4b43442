// Package webhook exposes signed HTTP endpoints that forward their payload to
// the worker as a named event.
//
// Each endpoint is bound to one event name. A POST must carry an HMAC-SHA256
// signature of the raw body in the configured header, either as plain hex or
// in GitHub's "sha256=<hex>" form. Verified bodies are submitted with the body
// as the single string argument:
//
//	webhooks:
//	  listen: "127.0.0.1:8788"
//	  endpoints:
//	    - path: /hooks/deploy
//	      event: Deploy
//	      secret: ${DEPLOY_HOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 1MB
//
// Responses never describe why a signature was rejected:
//
//   - 202 Accepted: event handed to the bridge
//   - 403 Forbidden: missing or bad signature
//   - 413 Payload Too Large: body exceeds max_body_size
//   - 503 Service Unavailable: no worker is running, nothing was submitted
package webhook
