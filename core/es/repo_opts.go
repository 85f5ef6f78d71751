package es

import (
	"log/slog"
	"os"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/esrepo-go/core/crypt"
)

// IDGenerator generates snapshot ids.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

type (
	repoOpts struct {
		log         *slog.Logger
		metrics     Metrics
		cipher      crypt.Cipher
		publisher   Publisher
		coalesce    bool
		clock       func() time.Time
		idGenerator IDGenerator
		debug       *bool
		key         *string
	}

	callOpts struct {
		key *string
	}
)

type (
	valueOption[T any] struct{ v T }

	RepositoryOption interface{ applyToRepository(*repoOpts) }
	CallOption       interface{ applyToCall(*callOpts) }

	LogOption             valueOption[*slog.Logger]
	MetricsOption         valueOption[Metrics]
	CipherOption          valueOption[crypt.Cipher]
	PublisherOption       valueOption[Publisher]
	ReadCoalescingOption  valueOption[bool]
	ClockOption           valueOption[func() time.Time]
	RepoIDGeneratorOption valueOption[IDGenerator]
	DebugOption           valueOption[bool]
	EncryptionKeyOption   valueOption[string]
)

// WithLogger sets the logger. By default the repository logs to
// slog.Default, or to a debug text handler on stderr when debug is on.
func WithLogger(l *slog.Logger) LogOption { return LogOption{v: l} }

// WithMetrics sets the metrics implementation.
func WithMetrics(m Metrics) MetricsOption { return MetricsOption{v: m} }

// WithCipher replaces the AES-CBC field cipher.
func WithCipher(c crypt.Cipher) CipherOption { return CipherOption{v: c} }

// WithPublisher forwards written events to p.
func WithPublisher(p Publisher) PublisherOption { return PublisherOption{v: p} }

// WithReadCoalescing shares one store round trip between concurrent reads
// of the same aggregate. The shared query ignores the cancellation of the
// reader that started it; every reader still stops waiting when its own
// context is done.
func WithReadCoalescing(enabled bool) ReadCoalescingOption { return ReadCoalescingOption{v: enabled} }

func WithClock(now func() time.Time) ClockOption { return ClockOption{v: now} }

// WithIDGenerator sets the generator for snapshot ids.
func WithIDGenerator(gen IDGenerator) RepoIDGeneratorOption { return RepoIDGeneratorOption{v: gen} }

// WithDebug overrides Config.Debug.
func WithDebug(debug bool) DebugOption { return DebugOption{v: debug} }

// WithEncryptionKey sets the encryption key. Passed to the constructor it
// overrides Config.EncryptionKey; passed to a single call it overrides the
// repository default for that call.
func WithEncryptionKey(key string) EncryptionKeyOption { return EncryptionKeyOption{v: key} }

func (o LogOption) applyToRepository(r *repoOpts)             { r.log = o.v }
func (o MetricsOption) applyToRepository(r *repoOpts)         { r.metrics = o.v }
func (o CipherOption) applyToRepository(r *repoOpts)          { r.cipher = o.v }
func (o PublisherOption) applyToRepository(r *repoOpts)       { r.publisher = o.v }
func (o ReadCoalescingOption) applyToRepository(r *repoOpts)  { r.coalesce = o.v }
func (o ClockOption) applyToRepository(r *repoOpts)           { r.clock = o.v }
func (o RepoIDGeneratorOption) applyToRepository(r *repoOpts) { r.idGenerator = o.v }
func (o DebugOption) applyToRepository(r *repoOpts)           { r.debug = &o.v }
func (o EncryptionKeyOption) applyToRepository(r *repoOpts)   { r.key = &o.v }
func (o EncryptionKeyOption) applyToCall(c *callOpts)         { c.key = &o.v }

func newRepoOpts(cfg Config, opts ...RepositoryOption) repoOpts {
	options := repoOpts{
		metrics:     NopMetrics(),
		cipher:      crypt.NewAESCBC(),
		publisher:   nopPublisher{},
		clock:       time.Now,
		idGenerator: DefaultIDGenerator(),
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	if options.log == nil {
		debug := cfg.Debug
		if options.debug != nil {
			debug = *options.debug
		}
		options.log = slog.Default()
		if debug {
			options.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	}
	return options
}

func newCallOpts(opts ...CallOption) callOpts {
	options := callOpts{}
	for _, opt := range opts {
		opt.applyToCall(&options)
	}
	return options
}
