package imagesearch

// DefaultLimit is the per-source result count used when no limit is set.
const DefaultLimit = 10

// SearchOption represents a search configuration option.
type SearchOption interface {
	Apply(*SearchConfig)
}

// SearchConfig holds all search configuration parameters.
type SearchConfig struct {
	// Limit specifies the maximum number of results a single backend returns.
	Limit int

	// PublicOnly restricts results to public-domain licensed images.
	PublicOnly bool

	// Filters contains filter expressions to apply.
	Filters []Expression
}

// NewSearchConfig applies opts over the defaults.
func NewSearchConfig(opts ...SearchOption) *SearchConfig {
	cfg := &SearchConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.Apply(cfg)
		}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return cfg
}

// optionFunc is a function that implements SearchOption.
type optionFunc func(*SearchConfig)

// Apply implements the SearchOption interface for optionFunc.
func (f optionFunc) Apply(cfg *SearchConfig) {
	f(cfg)
}

// WithLimit sets the maximum number of results to return per backend.
func WithLimit(n int) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.Limit = n
	})
}

// WithPublicOnly restricts the search to public-domain imagery.
func WithPublicOnly(publicOnly bool) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.PublicOnly = publicOnly
	})
}
