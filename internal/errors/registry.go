package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Store Errors (K001-K019)
	// ============================================

	"K001": {
		Category: CategoryStore,
		Message:  "Store already exists",
		Detail:   "Store names are unique within a registry. Drop the existing store first or pick another name.",
	},
	"K002": {
		Category: CategoryStore,
		Message:  "Store name is required",
		Detail:   "Stores are created with a non-empty name that becomes the first segment of every path.",
	},
	"K003": {
		Category: CategoryStore,
		Message:  "Initial state is required",
		Detail:   "A store needs an initial value. Use an empty object ({}) for a store that starts empty.",
	},
	"K004": {
		Category: CategoryStore,
		Message:  "Key does not exist",
		Detail:   "Set only replaces existing keys. Use update to create new keys.",
	},
	"K005": {
		Category: CategoryStore,
		Message:  "Cache key configured without an adapter",
		Detail:   "A store was given a cache key but no cache backend. Configure cache.backend or remove the key.",
	},
	"K006": {
		Category: CategoryStore,
		Message:  "Store not found",
		Detail:   "The store does not exist or has been dropped.",
	},
	"K007": {
		Category: CategoryStore,
		Message:  "Invalid store name",
		Detail:   "Store names cannot contain '.' or '*' because they are used as path segments.",
	},
	"K008": {
		Category: CategoryStore,
		Message:  "Invalid path",
		Detail:   "Writes must address a store or a key inside one.",
	},

	// ============================================
	// Cache Errors (K020-K039)
	// ============================================

	"K020": {
		Category: CategoryCache,
		Message:  "Cache adapter missing",
		Detail:   "A cache binding requires an adapter.",
	},
	"K021": {
		Category: CategoryCache,
		Message:  "Cache closed",
		Detail:   "The cache adapter or controller has been closed.",
	},
	"K022": {
		Category: CategoryCache,
		Message:  "Cache backend unavailable",
		Detail:   "The configured cache backend could not be opened.",
	},

	// ============================================
	// Config Errors (K040-K059)
	// ============================================

	"K040": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
		Detail:   "The configuration file or environment contains an invalid value.",
	},
	"K041": {
		Category: CategoryConfig,
		Message:  "Configuration file not readable",
		Detail:   "The configuration file exists but could not be parsed.",
	},

	// ============================================
	// Server and Query Errors (K060-K079)
	// ============================================

	"K060": {
		Category: CategoryServer,
		Message:  "Server failed",
		Detail:   "The HTTP server stopped unexpectedly.",
	},
	"K061": {
		Category: CategoryQuery,
		Message:  "Query failed",
		Detail:   "The expression could not be compiled or evaluated against the store.",
	},
	"K079": {
		Category: CategoryCLI,
		Message:  "Command failed",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
