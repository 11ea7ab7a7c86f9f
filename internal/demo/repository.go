package demo

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	rf "github.com/unkn0wn-root/redisflow"
)

// ProductRepository keeps products as Redis hashes under "products:<id>",
// one field per attribute, with an optional per-product TTL.
type ProductRepository struct {
	rdb goredis.UniversalClient
}

func NewProductRepository(rdb goredis.UniversalClient) (*ProductRepository, error) {
	if rdb == nil {
		return nil, &rf.ConfigError{Field: "client", Reason: "required"}
	}
	return &ProductRepository{rdb: rdb}, nil
}

func productKey(id string) string { return ProductsCache + ":" + id }

// Save replaces the stored product. ttl 0 keeps it until deleted.
func (r *ProductRepository) Save(ctx context.Context, p Product, ttl time.Duration) error {
	if p.ID == "" {
		return &rf.ConfigError{Field: "product id", Reason: "required"}
	}
	if ttl < 0 {
		return &rf.ConfigError{Field: "ttl", Reason: "must not be negative"}
	}
	k := productKey(p.ID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, "id", p.ID, "name", p.Name, "price", strconv.FormatInt(p.Price, 10))
		if ttl > 0 {
			pipe.Expire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return &rf.StoreError{Op: "hset", Key: k, Err: err}
	}
	return nil
}

// FindByID returns (product, true, nil), or ok=false when it does not exist or has expired.
func (r *ProductRepository) FindByID(ctx context.Context, id string) (Product, bool, error) {
	k := productKey(id)
	m, err := r.rdb.HGetAll(ctx, k).Result()
	if err != nil {
		return Product{}, false, &rf.StoreError{Op: "hgetall", Key: k, Err: err}
	}
	if len(m) == 0 {
		return Product{}, false, nil
	}
	price, err := strconv.ParseInt(m["price"], 10, 64)
	if err != nil {
		return Product{}, false, &rf.SerializationError{Op: "decode", Source: k, Err: err}
	}
	return Product{ID: m["id"], Name: m["name"], Price: price}, true, nil
}

func (r *ProductRepository) DeleteByID(ctx context.Context, id string) error {
	k := productKey(id)
	if err := r.rdb.Del(ctx, k).Err(); err != nil {
		return &rf.StoreError{Op: "del", Key: k, Err: err}
	}
	return nil
}
