package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	rf "github.com/unkn0wn-root/redisflow"
	"github.com/unkn0wn-root/redisflow/internal/config"
	"github.com/unkn0wn-root/redisflow/internal/demo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "redisflow",
		Short: "Redis pub/sub, stream and cache-aside demo",
		Long: "redisflow runs the products / customers / orders demo against Redis.\n" +
			"Settings come from REDISFLOW_* environment variables.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(runCmd(), publishCmd(), appendCmd(), productCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func withRuntime(cmd *cobra.Command, metrics bool, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.close(closeCtx)
	}()
	return fn(ctx, rt)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run publishers, listeners and the product cache until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, true, func(ctx context.Context, rt *runtime) error {
				app, err := demo.NewApp(demo.Deps{
					Streams:  rt.store,
					PubSub:   rt.store,
					Products: rt.products,
					Logger:   rt.log,
					Hooks:    rt.hooks,
				}, demo.Settings{
					PollTimeout:    rt.cfg.PollTimeout,
					AutoAck:        rt.cfg.AutoAck,
					CancelOnError:  rt.cfg.CancelOnError,
					CacheTTL:       rt.cfg.CacheTTL,
					CustomerPeriod: rt.cfg.CustomerPeriod,
					OrderPeriod:    rt.cfg.OrderPeriod,
				})
				if err != nil {
					return err
				}
				if err := app.Start(ctx); err != nil {
					return err
				}
				rt.log.Info("redisflow running", rf.Fields{"redis": rt.cfg.RedisAddr, "cache": rt.cfg.CacheBackend})

				<-ctx.Done()
				rt.log.Info("shutting down", nil)
				// the poll timeout bounds how long a consumer can stay in XREADGROUP
				stopCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.PollTimeout+5*time.Second)
				defer cancel()
				return app.Stop(stopCtx)
			})
		},
	}
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <channel> <message>",
		Short: "Publish one message on a pub/sub channel",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, false, func(ctx context.Context, rt *runtime) error {
				n, err := rt.store.Publish(ctx, args[0], []byte(strings.Join(args[1:], " ")))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "delivered to %d subscriber(s)\n", n)
				return nil
			})
		},
	}
}

func appendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "append <stream> <field=value>...",
		Short: "Append one entry to a stream",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]string, len(args)-1)
			for _, kv := range args[1:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("expected field=value, got %q", kv)
				}
				values[k] = v
			}
			return withRuntime(cmd, false, func(ctx context.Context, rt *runtime) error {
				id, err := rt.store.XAdd(ctx, args[0], values)
				if err != nil {
					return &rf.StoreError{Op: "xadd", Key: args[0], Err: err}
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func productCmd() *cobra.Command {
	productCmd := &cobra.Command{Use: "product", Short: "Read and write the products cache"}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a product (loads and caches it on a miss)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProducts(cmd, func(ctx context.Context, svc *demo.ProductService) error {
				p, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}

	putCmd := &cobra.Command{
		Use:   "put <id> <name> <price>",
		Short: "Overwrite a cached product",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("price: %w", err)
			}
			return withProducts(cmd, func(ctx context.Context, svc *demo.ProductService) error {
				p, err := svc.Save(ctx, demo.Product{ID: args[0], Name: args[1], Price: price})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}

	evictCmd := &cobra.Command{
		Use:   "evict <id>",
		Short: "Evict a cached product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProducts(cmd, func(ctx context.Context, svc *demo.ProductService) error {
				return svc.Remove(ctx, args[0])
			})
		},
	}

	saveCmd := &cobra.Command{
		Use:   "save <id> <name> <price> [ttl]",
		Short: "Store a product as a hash, optionally expiring after ttl",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("price: %w", err)
			}
			var ttl time.Duration
			if len(args) == 4 {
				if ttl, err = time.ParseDuration(args[3]); err != nil {
					return fmt.Errorf("ttl: %w", err)
				}
			}
			return withRepository(cmd, func(ctx context.Context, repo *demo.ProductRepository) error {
				return repo.Save(ctx, demo.Product{ID: args[0], Name: args[1], Price: price}, ttl)
			})
		},
	}

	findCmd := &cobra.Command{
		Use:   "find <id>",
		Short: "Read a stored product hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, func(ctx context.Context, repo *demo.ProductRepository) error {
				p, ok, err := repo.FindByID(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("product %q not found", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}

	productCmd.AddCommand(getCmd, putCmd, evictCmd, saveCmd, findCmd)
	return productCmd
}

func withRepository(cmd *cobra.Command, fn func(ctx context.Context, repo *demo.ProductRepository) error) error {
	return withRuntime(cmd, false, func(ctx context.Context, rt *runtime) error {
		repo, err := demo.NewProductRepository(rt.rdb)
		if err != nil {
			return err
		}
		return fn(ctx, repo)
	})
}

func withProducts(cmd *cobra.Command, fn func(ctx context.Context, svc *demo.ProductService) error) error {
	return withRuntime(cmd, false, func(ctx context.Context, rt *runtime) error {
		svc, err := demo.NewProductService(rt.products, rt.cfg.CacheTTL, rt.log)
		if err != nil {
			return err
		}
		return fn(ctx, svc)
	})
}
