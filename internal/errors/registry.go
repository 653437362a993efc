package errors

import "sort"

// Template defines a registered error type.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

var registry = map[string]Template{
	// Route contract (P001-P019)

	"P001": {
		Category:   CategoryRoute,
		Message:    "Route handler did not return a page",
		Detail:     "A page function must return a *ui.Page or an http.Handler. Any other value cannot be rendered.",
		Suggestion: "Return ui.NewPage() (or ui.Redirect(url)) from the route function",
	},
	"P002": {
		Category:   CategoryRoute,
		Message:    "Web page is empty",
		Detail:     "The page has no components and no raw HTML, so there is nothing to render.",
		Suggestion: "Add components with page.Add before returning the page",
	},
	"P003": {
		Category: CategoryRoute,
		Message:  "Route handler failed",
		Detail:   "The page function returned an error before a page was built.",
	},
	"P004": {
		Category: CategoryRoute,
		Message:  "Page could not be registered",
		Detail:   "The page was disposed before it was served, or the server is shutting down.",
	},

	// Protocol (W001-W019)

	"W001": {
		Category: CategoryProtocol,
		Message:  "Malformed client message",
		Detail:   "The request body is not a valid event envelope.",
	},
	"W002": {
		Category: CategoryProtocol,
		Message:  "Bad session",
		Detail:   "The session cookie failed signature verification or has expired.",
	},
	"W003": {
		Category: CategoryProtocol,
		Message:  "WebSocket upgrade failed",
	},

	// Configuration (C001-C039)

	"C001": {
		Category:   CategoryConfig,
		Message:    "Invalid listen address",
		Suggestion: `Use host:port, for example ":8000" or "127.0.0.1:8000"`,
	},
	"C002": {
		Category:   CategoryConfig,
		Message:    "Secret key is required when sessions are enabled",
		Detail:     "Session cookies are signed with the secret key.",
		Suggestion: "Set secret_key in the config file or PAGEWIRE_SECRET_KEY, or disable sessions",
	},
	"C003": {
		Category:   CategoryConfig,
		Message:    "Invalid log level",
		Suggestion: "Use one of debug, info, warn, error",
	},
	"C004": {
		Category:   CategoryConfig,
		Message:    "Invalid log format",
		Suggestion: "Use text or json",
	},
	"C005": {
		Category: CategoryConfig,
		Message:  "Duration must not be negative",
	},
	"C006": {
		Category: CategoryConfig,
		Message:  "Config file could not be read",
	},
	"C007": {
		Category:   CategoryConfig,
		Message:    "Unsupported config file format",
		Suggestion: "Use a .yaml, .yml or .json file",
	},
	"C008": {
		Category: CategoryConfig,
		Message:  "Config file could not be parsed",
	},
	"C009": {
		Category: CategoryConfig,
		Message:  "Invalid environment override",
	},
	"C010": {
		Category:   CategoryConfig,
		Message:    "Endpoint paths must be absolute and distinct",
		Suggestion: `Paths start with "/", for example "/_pagewire/event"`,
	},

	// CLI (X001-X009)

	"X001": {
		Category: CategoryCLI,
		Message:  "Server exited with an error",
	},
}

// Codes returns all registered error codes, sorted.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template for an error code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry. It is meant for
// package init; the registry is not guarded for concurrent writes.
func Register(code string, template Template) {
	registry[code] = template
}
