package strata

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultInlineThreshold is the size above which chunks staged inline are
// written to the store as blobs on flush.
const DefaultInlineThreshold = 512

// DefaultBranch is the branch created by InitRepository.
const DefaultBranch = "main"

// Option configures a Dataset or Repository.
// Options implement methods for the constructors they support.
// Using an option with an unsupported constructor returns an error.
type Option interface {
	applyDataset(*datasetConfig) error
	applyRepository(*repositoryConfig) error
}

// ErrOptionNotValidForDataset indicates an option was used with Create or
// Update that only applies to repositories.
var ErrOptionNotValidForDataset = errors.New("option not valid for dataset")

type datasetConfig struct {
	logger          *zap.Logger
	inlineThreshold int
	resolver        *VirtualResolver
	factories       map[string]VirtualStoreFactory
	compressor      Compressor
}

func defaultDatasetConfig() datasetConfig {
	return datasetConfig{
		logger:          zap.NewNop(),
		inlineThreshold: DefaultInlineThreshold,
		compressor:      NewZstdCompressor(),
	}
}

// build finalizes the configuration, creating a resolver when none was
// supplied.
func (c *datasetConfig) build() {
	if c.resolver == nil {
		c.resolver = NewVirtualResolver()
	}
	for scheme, f := range c.factories {
		c.resolver.Register(scheme, f)
	}
	c.factories = nil
}

type repositoryConfig struct {
	dataset       datasetConfig
	defaultBranch string
}

func buildDatasetConfig(opts []Option) (datasetConfig, error) {
	cfg := defaultDatasetConfig()
	for _, o := range opts {
		if err := o.applyDataset(&cfg); err != nil {
			return cfg, fmt.Errorf("strata: %w", err)
		}
	}
	cfg.build()
	return cfg, nil
}

func buildRepositoryConfig(opts []Option) (repositoryConfig, error) {
	cfg := repositoryConfig{dataset: defaultDatasetConfig(), defaultBranch: DefaultBranch}
	for _, o := range opts {
		if err := o.applyRepository(&cfg); err != nil {
			return cfg, fmt.Errorf("strata: %w", err)
		}
	}
	cfg.dataset.build()
	return cfg, nil
}

// -----------------------------------------------------------------------------
// Shared options
// -----------------------------------------------------------------------------

// loggerOption implements Option for WithLogger.
type loggerOption struct {
	logger *zap.Logger
}

// WithLogger sets the structured logger.
// Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return &loggerOption{logger: l}
}

func (o *loggerOption) applyDataset(cfg *datasetConfig) error {
	if o.logger == nil {
		return errors.New("WithLogger: logger must not be nil")
	}
	cfg.logger = o.logger
	return nil
}

func (o *loggerOption) applyRepository(cfg *repositoryConfig) error {
	return o.applyDataset(&cfg.dataset)
}

// inlineThresholdOption implements Option for WithInlineThreshold.
type inlineThresholdOption struct {
	n int
}

// WithInlineThreshold sets the size in bytes above which chunks staged
// inline are written to the store as blobs on flush. Zero keeps every chunk
// inline.
// Default: DefaultInlineThreshold.
func WithInlineThreshold(n int) Option {
	return &inlineThresholdOption{n: n}
}

func (o *inlineThresholdOption) applyDataset(cfg *datasetConfig) error {
	if o.n < 0 {
		return fmt.Errorf("WithInlineThreshold: negative threshold %d", o.n)
	}
	cfg.inlineThreshold = o.n
	return nil
}

func (o *inlineThresholdOption) applyRepository(cfg *repositoryConfig) error {
	return o.applyDataset(&cfg.dataset)
}

// resolverOption implements Option for WithVirtualResolver.
type resolverOption struct {
	resolver *VirtualResolver
}

// WithVirtualResolver shares a resolver, and with it the cached virtual
// stores, across sessions.
// Default: a fresh NewVirtualResolver() per session or repository.
func WithVirtualResolver(r *VirtualResolver) Option {
	return &resolverOption{resolver: r}
}

func (o *resolverOption) applyDataset(cfg *datasetConfig) error {
	if o.resolver == nil {
		return errors.New("WithVirtualResolver: resolver must not be nil")
	}
	cfg.resolver = o.resolver
	return nil
}

func (o *resolverOption) applyRepository(cfg *repositoryConfig) error {
	return o.applyDataset(&cfg.dataset)
}

// virtualStoreFactoryOption implements Option for WithVirtualStoreFactory.
type virtualStoreFactoryOption struct {
	scheme  string
	factory VirtualStoreFactory
}

// WithVirtualStoreFactory registers the store factory serving a location
// scheme, SchemeS3 or SchemeFile. It replaces the default for that scheme.
func WithVirtualStoreFactory(scheme string, f VirtualStoreFactory) Option {
	return &virtualStoreFactoryOption{scheme: scheme, factory: f}
}

func (o *virtualStoreFactoryOption) applyDataset(cfg *datasetConfig) error {
	if o.scheme == "" || o.factory == nil {
		return errors.New("WithVirtualStoreFactory: scheme and factory are required")
	}
	if !knownScheme(o.scheme) {
		return fmt.Errorf("WithVirtualStoreFactory: unrecognized scheme %q: %w", o.scheme, ErrInvalidLocation)
	}
	if cfg.factories == nil {
		cfg.factories = make(map[string]VirtualStoreFactory)
	}
	cfg.factories[o.scheme] = o.factory
	return nil
}

func (o *virtualStoreFactoryOption) applyRepository(cfg *repositoryConfig) error {
	return o.applyDataset(&cfg.dataset)
}

// compressorOption implements Option for WithCompressor.
type compressorOption struct {
	compressor Compressor
}

// WithCompressor sets the compressor for snapshot bodies.
// Default: NewZstdCompressor().
func WithCompressor(c Compressor) Option {
	return &compressorOption{compressor: c}
}

func (o *compressorOption) applyDataset(cfg *datasetConfig) error {
	if o.compressor == nil {
		return errors.New("WithCompressor: compressor must not be nil")
	}
	cfg.compressor = o.compressor
	return nil
}

func (o *compressorOption) applyRepository(cfg *repositoryConfig) error {
	return o.applyDataset(&cfg.dataset)
}

// -----------------------------------------------------------------------------
// Repository options
// -----------------------------------------------------------------------------

// defaultBranchOption implements Option for WithDefaultBranch (repository-only).
type defaultBranchOption struct {
	name string
}

// WithDefaultBranch names the branch InitRepository creates.
// Default: "main".
// This option is only valid for InitRepository and OpenRepository.
func WithDefaultBranch(name string) Option {
	return &defaultBranchOption{name: name}
}

func (o *defaultBranchOption) applyDataset(*datasetConfig) error {
	return fmt.Errorf("WithDefaultBranch: %w", ErrOptionNotValidForDataset)
}

func (o *defaultBranchOption) applyRepository(cfg *repositoryConfig) error {
	if err := validateBranchName(o.name); err != nil {
		return fmt.Errorf("WithDefaultBranch: %w", err)
	}
	cfg.defaultBranch = o.name
	return nil
}
