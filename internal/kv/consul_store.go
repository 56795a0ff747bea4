package kv

import (
	"context"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulStore implements Store on the Consul KV API. All keys live under a
// root prefix such as "edge-config/".
type ConsulStore struct {
	cli  *consulapi.Client
	root string
}

// NewConsulStore creates a client for the agent at addr.
func NewConsulStore(addr, root string) (*ConsulStore, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulStore{cli: cli, root: root}, nil
}

func (c *ConsulStore) Get(ctx context.Context, key string) ([]byte, error) {
	kv, _, err := c.cli.KV().Get(c.root+key, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if kv == nil {
		return nil, ErrKeyNotFound
	}
	return kv.Value, nil
}

func (c *ConsulStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := c.cli.KV().Put(&consulapi.KVPair{Key: c.root + key, Value: value}, (&consulapi.WriteOptions{}).WithContext(ctx))
	return err
}

func (c *ConsulStore) Delete(ctx context.Context, key string) error {
	_, err := c.cli.KV().Delete(c.root+key, (&consulapi.WriteOptions{}).WithContext(ctx))
	return err
}

func (c *ConsulStore) List(ctx context.Context, prefix string) ([]KVPair, error) {
	pairs, _, err := c.cli.KV().List(c.root+prefix, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]KVPair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, KVPair{Key: p.Key[len(c.root):], Value: p.Value})
	}
	sortPairs(out)
	return out, nil
}

// Close is a no-op; the Consul client holds no persistent connection.
func (c *ConsulStore) Close() error { return nil }
