package warehouse

import (
	"context"
	"errors"
	"os"
	"sync"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
)

// ClientCache hands out one BigQuery and one Cloud Storage client per
// credential set. Clients are built on first use, shared by every sink and
// safe for concurrent use.
type ClientCache struct {
	bigquery memo[*bigquery.Client]
	storage  memo[*storage.Client]
}

// DefaultClients is the process-wide client cache
var DefaultClients = NewClientCache()

// NewClientCache creates an empty cache
func NewClientCache() *ClientCache {
	return &ClientCache{}
}

// BigQuery returns the client for project and credentialsPath. An empty
// path uses application default credentials.
func (c *ClientCache) BigQuery(ctx context.Context, project, credentialsPath string) (*bigquery.Client, error) {
	return c.bigquery.get(project+"|"+credentialsPath, func() (*bigquery.Client, error) {
		opts, err := clientOptions(ctx, credentialsPath, bigquery.Scope)
		if err != nil {
			return nil, err
		}
		client, err := bigquery.NewClient(ctx, project, opts...)
		if err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, "failed to create BigQuery client")
		}
		return client, nil
	})
}

// Storage returns the Cloud Storage client for credentialsPath
func (c *ClientCache) Storage(ctx context.Context, credentialsPath string) (*storage.Client, error) {
	return c.storage.get(credentialsPath, func() (*storage.Client, error) {
		opts, err := clientOptions(ctx, credentialsPath, storage.ScopeReadWrite)
		if err != nil {
			return nil, err
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, "failed to create Cloud Storage client")
		}
		return client, nil
	})
}

// Close closes and forgets every cached client
func (c *ClientCache) Close() error {
	var errs []error
	for _, client := range c.bigquery.reset() {
		errs = append(errs, client.Close())
	}
	for _, client := range c.storage.reset() {
		errs = append(errs, client.Close())
	}
	return errors.Join(errs...)
}

// clientOptions loads a service account key when a path is given
func clientOptions(ctx context.Context, credentialsPath string, scopes ...string) ([]option.ClientOption, error) {
	if credentialsPath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(credentialsPath) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeAuthentication, "failed to read credentials file").
			WithDetail("path", credentialsPath)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeAuthentication, "invalid credentials file").
			WithDetail("path", credentialsPath)
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

// memo builds at most one value per key, even under concurrent first use.
type memo[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	group singleflight.Group
}

func (m *memo[T]) lookup(key string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *memo[T]) get(key string, build func() (T, error)) (T, error) {
	if v, ok := m.lookup(key); ok {
		return v, nil
	}

	res, err, _ := m.group.Do(key, func() (interface{}, error) {
		if v, ok := m.lookup(key); ok {
			return v, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.items == nil {
			m.items = make(map[string]T)
		}
		m.items[key] = v
		m.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// reset empties the memo and returns what it held
func (m *memo[T]) reset() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]T, 0, len(m.items))
	for _, v := range m.items {
		out = append(out, v)
	}
	m.items = nil
	return out
}
