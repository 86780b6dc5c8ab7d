package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-dev/katai/internal/errors"
	"github.com/vango-dev/katai/pkg/store"
)

func cacheCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect raw cache entries",
	}
	cmd.AddCommand(cacheGetCmd(opts), cacheDeleteCmd(opts))
	return cmd
}

func cacheGetCmd(opts *options) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "get <store>",
		Short: "Print the raw cache entry of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, b, err := readEntry(cmd.Context(), opts.cfg, args[0], key)
			if err != nil {
				return err
			}
			defer b.Close()
			if data == nil {
				return &store.StoreNotFoundError{Name: args[0]}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "Cache key (default: store name)")
	return cmd
}

func cacheDeleteCmd(opts *options) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "delete <store>",
		Short: "Delete the cache entry of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer b.Close()
			if b.adapter == nil {
				return errors.New("K020").WithSuggestion("Set cache.backend to sqlite or s3")
			}
			k := entryKey(opts.cfg, args[0], key)
			if err := b.adapter.Delete(cmd.Context(), k); err != nil {
				return errors.New("K022").Wrap(err)
			}
			success(cmd, "Deleted %s", k)
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "Cache key (default: store name)")
	return cmd
}
