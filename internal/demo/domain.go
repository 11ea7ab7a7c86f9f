// Package demo is the products / customers / orders application the redisflow
// binary runs: a cached product lookup, a customers broadcast and an orders
// stream, each driven by the scheduler.
package demo

import "fmt"

const (
	ProductsCache    = "products"
	CustomersChannel = "customers"
	OrdersStream     = "orders"
	OrdersGroup      = "my-group"
	OrdersConsumer   = "consumer-1"
)

type Product struct {
	ID    string `json:"id" msgpack:"id"`
	Name  string `json:"name" msgpack:"name"`
	Price int64  `json:"price" msgpack:"price"`
}

func (p Product) String() string {
	return fmt.Sprintf("Product(id=%s, name=%s, price=%d)", p.ID, p.Name, p.Price)
}

type Order struct {
	ID     string `json:"id" msgpack:"id"`
	Amount int64  `json:"amount" msgpack:"amount"`
}

func (o Order) String() string {
	return fmt.Sprintf("Order(id=%s, amount=%d)", o.ID, o.Amount)
}
