package webhook

// Submitter is the part of the bridge the webhook server feeds.
type Submitter interface {
	Submit(name string, args ...any)
	Running() bool
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path, e.g. "/hooks/github".
	Path string

	// Event is the worker event name the body is delivered as.
	Event string

	Secret string

	// SignatureHeader names the header carrying the HMAC,
	// e.g. "X-Hub-Signature-256".
	SignatureHeader string

	// MaxBodySize in bytes. Zero means DefaultMaxBodySize.
	MaxBodySize int64
}

// AcceptedResponse is returned once the event has been handed to the bridge.
type AcceptedResponse struct {
	Event string `json:"event"`
	Bytes int    `json:"bytes"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 1 << 20
	DefaultSignatureHeader = "X-Hub-Signature-256"
)
