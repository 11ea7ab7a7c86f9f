package demo

import (
	"context"
	"time"

	rf "github.com/unkn0wn-root/redisflow"
)

// ProductService reads products through the "products" cache. The lookup
// itself is a stand-in that builds an example product.
type ProductService struct {
	cache *rf.Bound[string, Product]
	ttl   time.Duration
	log   rf.Logger
}

func NewProductService(c rf.Coordinator[Product], ttl time.Duration, log rf.Logger) (*ProductService, error) {
	b, err := rf.Bind(c, rf.KeyFunc[string](func(id string) string { return id }))
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = rf.NopLogger{}
	}
	return &ProductService{cache: b, ttl: ttl, log: log}, nil
}

// Get returns the cached product or loads it on a miss.
func (s *ProductService) Get(ctx context.Context, id string) (Product, error) {
	return s.cache.GetOrCompute(ctx, id, s.ttl, s.load)
}

func (s *ProductService) load(_ context.Context, id string) (Product, error) {
	s.log.Info("Get product "+id, nil)
	return Product{ID: id, Name: "example", Price: 100}, nil
}

// Save overwrites the cached entry for p.ID.
func (s *ProductService) Save(ctx context.Context, p Product) (Product, error) {
	s.log.Info("Save product "+p.String(), nil)
	if err := s.cache.Put(ctx, p.ID, p, s.ttl); err != nil {
		return Product{}, err
	}
	return p, nil
}

func (s *ProductService) Remove(ctx context.Context, id string) error {
	s.log.Info("Remove product "+id, nil)
	return s.cache.Evict(ctx, id)
}
