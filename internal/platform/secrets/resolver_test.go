package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const stripeLatest = "projects/clinic/secrets/stripe_api_key/versions/latest"

func TestResolveRereadsLatestAfterRefreshInterval(t *testing.T) {
	client := newFakeAccessor()
	client.set(stripeLatest, "sk_live_old")

	resolver := newTestResolver(t, WithAccessor(client), WithDefaultProject("clinic"), WithRefreshInterval(time.Minute))
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	resolver.now = func() time.Time { return clock }

	if got := mustResolve(t, resolver, "secret://stripe_api_key"); got != "sk_live_old" {
		t.Fatalf("expected sk_live_old, got %s", got)
	}

	client.set(stripeLatest, "sk_live_rotated")
	clock = clock.Add(30 * time.Second)
	if got := mustResolve(t, resolver, "secret://stripe_api_key"); got != "sk_live_old" {
		t.Fatalf("expected cached value inside the interval, got %s", got)
	}

	clock = clock.Add(time.Minute)
	if got := mustResolve(t, resolver, "secret://stripe_api_key"); got != "sk_live_rotated" {
		t.Fatalf("expected rotated value, got %s", got)
	}
	if calls := client.calls(stripeLatest); calls != 2 {
		t.Fatalf("expected 2 accesses, got %d", calls)
	}
}

func TestResolvePinnedVersionIsNeverReread(t *testing.T) {
	client := newFakeAccessor()
	client.set("projects/clinic/secrets/stripe_api_key/versions/5", "version-5")
	client.set("projects/clinic/secrets/stripe_api_key/versions/7", "version-7")

	resolver := newTestResolver(t,
		WithAccessor(client),
		WithEnvironment("prod"),
		WithProjectMap(map[string]string{"PROD": "clinic"}),
		WithDefaultProject("ignored"),
		WithRefreshInterval(time.Millisecond),
		WithVersionPins(map[string]string{
			"secret://stripe_api_key":      "5",
			"prod:secret://stripe_api_key": "7",
		}),
	)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	resolver.now = func() time.Time { return clock }

	if got := mustResolve(t, resolver, "secret://stripe_api_key"); got != "version-7" {
		t.Fatalf("expected environment pin to win, got %s", got)
	}
	clock = clock.Add(time.Hour)
	mustResolve(t, resolver, "sm://stripe_api_key")
	if calls := client.calls("projects/clinic/secrets/stripe_api_key/versions/7"); calls != 1 {
		t.Fatalf("expected a single access of the pinned version, got %d", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerUnreachable(t *testing.T) {
	client := newFakeAccessor()
	client.fail(stripeLatest, status.Error(codes.Unavailable, "down"))

	resolver := newTestResolver(t,
		WithAccessor(client),
		WithDefaultProject("clinic"),
		WithFallbackFile(writeFallback(t, "stripe_api_key=local-secret\n# comment\nredirect_signing_key=\"abc\"\n")),
	)

	if got := mustResolve(t, resolver, "secret://stripe_api_key"); got != "local-secret" {
		t.Fatalf("expected local-secret, got %s", got)
	}
	if got := mustResolve(t, resolver, "secret://redirect_signing_key"); got != "abc" {
		t.Fatalf("expected quoted value to be unwrapped, got %s", got)
	}
}

func TestResolveDoesNotFallBackOnNotFound(t *testing.T) {
	client := newFakeAccessor()

	resolver := newTestResolver(t,
		WithAccessor(client),
		WithDefaultProject("clinic"),
		WithFallbackFile(writeFallback(t, "stripe_api_key=local-secret\n")),
	)

	_, err := resolver.Resolve(context.Background(), "secret://stripe_api_key")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveServesPreviousValueWhenRefreshFails(t *testing.T) {
	client := newFakeAccessor()
	client.set(stripeLatest, "sk_live_old")

	resolver := newTestResolver(t, WithAccessor(client), WithDefaultProject("clinic"), WithRefreshInterval(time.Minute))
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	resolver.now = func() time.Time { return clock }

	mustResolve(t, resolver, "secret://stripe_api_key")
	client.fail(stripeLatest, errors.New("connection reset"))
	clock = clock.Add(2 * time.Minute)

	if got := mustResolve(t, resolver, "secret://stripe_api_key"); got != "sk_live_old" {
		t.Fatalf("expected previous value, got %s", got)
	}
}

func TestResolveWithoutCredentialsUsesFallback(t *testing.T) {
	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	resolver := newTestResolver(t,
		WithDefaultProject("clinic"),
		WithFallbackFile(writeFallback(t, "redis_password=local\n")),
	)

	if got := mustResolve(t, resolver, "secret://redis_password"); got != "local" {
		t.Fatalf("expected local, got %s", got)
	}
	if _, err := resolver.Resolve(context.Background(), "secret://unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown secret, got %v", err)
	}
}

func TestParseReference(t *testing.T) {
	cases := []struct {
		ref     string
		want    reference
		wantErr bool
	}{
		{ref: "secret://stripe_api_key", want: reference{name: "stripe_api_key"}},
		{ref: "sm://psp/redirect?version=3&project=bank", want: reference{name: "psp/redirect", version: "3", project: "bank"}},
		{ref: "https://example.com/x", wantErr: true},
		{ref: "secret://", wantErr: true},
		{ref: " ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseReference(tc.ref)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.ref)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.ref, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %+v, got %+v", tc.ref, tc.want, got)
		}
	}
}

func newTestResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	opts = append([]Option{WithFallbackFile("")}, opts...)
	resolver, err := NewResolver(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	t.Cleanup(func() { _ = resolver.Close() })
	return resolver
}

func mustResolve(t *testing.T, resolver *Resolver, ref string) string {
	t.Helper()
	value, err := resolver.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", ref, err)
	}
	return value
}

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

type fakeAccessor struct {
	mu      sync.Mutex
	values  map[string]string
	errs    map[string]error
	counter map[string]int
}

func newFakeAccessor() *fakeAccessor {
	return &fakeAccessor{
		values:  make(map[string]string),
		errs:    make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeAccessor) set(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = value
	delete(f.errs, name)
}

func (f *fakeAccessor) fail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[name] = err
}

func (f *fakeAccessor) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}

func (f *fakeAccessor) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.counter[name]++
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeAccessor) Close() error { return nil }
