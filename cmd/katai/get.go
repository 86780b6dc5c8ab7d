package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vango-dev/katai/internal/config"
	"github.com/vango-dev/katai/internal/errors"
	"github.com/vango-dev/katai/pkg/cache"
	"github.com/vango-dev/katai/pkg/keypath"
	"github.com/vango-dev/katai/pkg/store"
)

func getCmd(opts *options) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "get <store> [path]",
		Short: "Print a store's persisted state",
		Long: `Read the cache entry of a store from the configured backend and
print the value at path as JSON.

Examples:
  katai get todos
  katai get todos items.0.title
  katai get prefs theme --key=user-prefs`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 2 {
				path = args[1]
			}
			return runGet(cmd.Context(), cmd.OutOrStdout(), opts.cfg, args[0], key, path)
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "Cache key (default: store name)")

	return cmd
}

func runGet(ctx context.Context, w io.Writer, cfg *config.Config, name, key, path string) error {
	data, b, err := readEntry(ctx, cfg, name, key)
	if err != nil {
		return err
	}
	defer b.Close()
	if data == nil {
		return &store.StoreNotFoundError{Name: name}
	}

	state, err := b.codec.Unmarshal(data)
	if err != nil {
		return errors.New("K022").Wrap(fmt.Errorf("decode %s entry: %w", b.codec.Name(), err))
	}
	value, ok := keypath.Read(state, path)
	if !ok {
		return &store.KeyNotFoundError{Store: name, Path: path}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// readEntry opens the backend and reads the raw entry for a store. The
// returned backend must be closed by the caller when err is nil.
func readEntry(ctx context.Context, cfg *config.Config, name, key string) ([]byte, *backend, error) {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if b.adapter == nil {
		b.Close()
		return nil, nil, errors.New("K020").WithSuggestion("Set cache.backend to sqlite or s3")
	}
	data, err := b.adapter.Read(ctx, entryKey(cfg, name, key))
	if err != nil {
		b.Close()
		return nil, nil, errors.New("K022").Wrap(err)
	}
	return data, b, nil
}

func entryKey(cfg *config.Config, name, key string) string {
	return cache.CompositeKey(cfg.Cache.Prefix, name, key)
}
