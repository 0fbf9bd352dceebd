package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment     = "local"
	defaultFallbackPath    = ".secrets.local"
	defaultRefreshInterval = 5 * time.Minute
	latestVersion          = "latest"
	meterName              = "github.com/hanko-field/clinic-commerce/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file knows the secret.
var ErrNotFound = errors.New("secrets: secret not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Accessor is the subset of the Secret Manager client the resolver calls.
type Accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver turns secret:// references (PSP API keys, webhook secrets, the redirect bank's signing
// key, the Redis password) into values. Pinned versions are cached for the process lifetime;
// "latest" is re-read every refresh interval so rotated PSP credentials are picked up without a
// restart.
type Resolver struct {
	client     Accessor
	ownsClient bool
	logger     *zap.Logger
	now        func() time.Time

	project string
	env     string
	pins    map[string]string
	refresh time.Duration

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.Mutex
	cache map[string]cachedSecret

	resolutions metric.Int64Counter
	duration    metric.Float64Histogram
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
	pinned    bool
}

type settings struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projectMap   map[string]string
	pins         map[string]string
	fallbackPath string
	refresh      time.Duration
	meter        metric.Meter
	client       Accessor
	clientOpts   []option.ClientOption
}

// Option customises a Resolver.
type Option func(*settings)

// WithLogger sets the resolver logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnvironment selects the deployment label used for project and version pin lookups.
func WithEnvironment(env string) Option {
	return func(s *settings) {
		if trimmed := strings.ToLower(strings.TrimSpace(env)); trimmed != "" {
			s.env = trimmed
		}
	}
}

// WithDefaultProject sets the project used when the environment has no entry in the project map.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) {
		s.defaultProj = strings.TrimSpace(projectID)
	}
}

// WithProjectMap maps environment labels to Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(s *settings) {
		for label, project := range m {
			s.projectMap[strings.ToLower(strings.TrimSpace(label))] = strings.TrimSpace(project)
		}
	}
}

// WithVersionPins pins references to a version. Keys are either "secret://name" or
// "<env>:secret://name"; the environment-scoped pin wins.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) {
		for ref, version := range pins {
			s.pins[ref] = strings.TrimSpace(version)
		}
	}
}

// WithFallbackFile points at a dotenv file of name=value pairs consulted when Secret Manager is
// unreachable. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(s *settings) {
		s.fallbackPath = strings.TrimSpace(path)
	}
}

// WithRefreshInterval controls how long a "latest" value is served before it is re-read.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.refresh = d
		}
	}
}

// WithMeter overrides the meter used for resolution metrics.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) {
		if m != nil {
			s.meter = m
		}
	}
}

// WithAccessor injects a Secret Manager client. The resolver does not close injected clients.
func WithAccessor(client Accessor) Option {
	return func(s *settings) {
		s.client = client
	}
}

// WithClientOptions forwards options to the Secret Manager client the resolver creates.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// NewResolver builds a resolver. A Secret Manager client that cannot be created (no credentials on
// a laptop) leaves the resolver in fallback-only mode rather than failing startup.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	s := settings{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		projectMap:   map[string]string{},
		pins:         map[string]string{},
		fallbackPath: defaultFallbackPath,
		refresh:      defaultRefreshInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	resolutions, err := s.meter.Int64Counter(
		"secrets.resolutions",
		metric.WithDescription("Secret resolutions by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register resolution counter: %w", err)
	}
	duration, err := s.meter.Float64Histogram(
		"secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register resolution histogram: %w", err)
	}

	project := s.defaultProj
	if mapped := s.projectMap[s.env]; mapped != "" {
		project = mapped
	}

	r := &Resolver{
		logger:       s.logger,
		now:          time.Now,
		project:      project,
		env:          s.env,
		pins:         s.pins,
		refresh:      s.refresh,
		fallbackPath: s.fallbackPath,
		cache:        make(map[string]cachedSecret),
		resolutions:  resolutions,
		duration:     duration,
	}

	if s.client != nil {
		r.client = s.client
		return r, nil
	}
	client, err := newSecretManagerClient(ctx, s.clientOpts...)
	if err != nil {
		s.logger.Warn("secret manager unavailable, resolving from fallback file only",
			zap.String("fallback", s.fallbackPath), zap.Error(err))
		return r, nil
	}
	r.client = client
	r.ownsClient = true
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Resolve returns the value behind ref. It satisfies config.SecretResolverFunc.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	start := r.now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	version := r.versionFor(parsed)
	key := parsed.name + "@" + version

	cached, hit := r.lookup(key)
	if hit && (cached.pinned || r.now().Sub(cached.fetchedAt) < r.refresh) {
		r.record(ctx, start, "cache")
		return cached.value, nil
	}

	project := parsed.project
	if project == "" {
		project = r.project
	}

	if r.client != nil && project != "" {
		value, fetchErr := r.access(ctx, project, parsed.name, version)
		switch {
		case fetchErr == nil:
			r.store(key, value, version != latestVersion)
			r.record(ctx, start, "secret_manager")
			return value, nil
		case status.Code(fetchErr) == codes.NotFound:
			r.record(ctx, start, "error")
			return "", fmt.Errorf("%w: %s", ErrNotFound, parsed.name)
		case hit:
			r.logger.Warn("secret refresh failed, serving previous value",
				zap.String("secret", parsed.name), zap.String("version", version), zap.Error(fetchErr))
			r.record(ctx, start, "stale")
			return cached.value, nil
		case !isUnreachable(fetchErr):
			r.record(ctx, start, "error")
			return "", fmt.Errorf("secrets: access %s: %w", parsed.name, fetchErr)
		}
		r.logger.Debug("secret manager unreachable, trying fallback file",
			zap.String("secret", parsed.name), zap.Error(fetchErr))
	}

	value, err := r.fromFallback(parsed.name)
	if err != nil {
		r.record(ctx, start, "error")
		return "", err
	}
	r.store(key, value, true)
	r.record(ctx, start, "fallback")
	return value, nil
}

func (r *Resolver) access(ctx context.Context, project, name, version string) (string, error) {
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version),
	})
	if err != nil {
		return "", err
	}
	return string(resp.GetPayload().GetData()), nil
}

func (r *Resolver) versionFor(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	canonical := "secret://" + ref.name
	if pin := r.pins[r.env+":"+canonical]; pin != "" {
		return pin
	}
	if pin := r.pins[canonical]; pin != "" {
		return pin
	}
	return latestVersion
}

func (r *Resolver) lookup(key string) (cachedSecret, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	return entry, ok
}

func (r *Resolver) store(key, value string, pinned bool) {
	r.mu.Lock()
	r.cache[key] = cachedSecret{value: value, fetchedAt: r.now(), pinned: pinned}
	r.mu.Unlock()
}

func (r *Resolver) fromFallback(name string) (string, error) {
	r.fallbackOnce.Do(func() {
		if r.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(r.fallbackPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			r.fallbackErr = fmt.Errorf("secrets: read fallback file %s: %w", r.fallbackPath, err)
			return
		}
		r.fallback = values
	})
	if r.fallbackErr != nil {
		return "", r.fallbackErr
	}
	if value, ok := r.fallback[name]; ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (r *Resolver) record(ctx context.Context, start time.Time, source string) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	r.resolutions.Add(ctx, 1, attrs)
	r.duration.Record(ctx, float64(r.now().Sub(start))/float64(time.Millisecond), attrs)
}

type reference struct {
	name    string
	version string
	project string
}

// parseReference accepts secret://name and sm://name, with optional version and project query
// parameters.
func parseReference(ref string) (reference, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" && u.Scheme != "sm" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	query := u.Query()
	return reference{
		name:    name,
		version: strings.TrimSpace(query.Get("version")),
		project: strings.TrimSpace(query.Get("project")),
	}, nil
}

func isUnreachable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
