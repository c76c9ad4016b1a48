package domain

import (
	"container/list"
	"fmt"

	"github.com/shopspring/decimal"
	algorithm "github.com/wyfcoding/pkg/algos/structures"
)

// PriceLevel 同一价格档位下的订单队列，保证时间优先 (FIFO)
type PriceLevel struct {
	Price  decimal.Decimal
	Orders *list.List // 存储 *Order，队首为该价位最早的未成交订单
}

func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price, Orders: list.New()}
}

// TotalQuantity 档位剩余总量
func (l *PriceLevel) TotalQuantity() decimal.Decimal {
	total := decimal.Zero
	for el := l.Orders.Front(); el != nil; el = el.Next() {
		total = total.Add(el.Value.(*Order).RemainingQuantity())
	}
	return total
}

// restingRef 定位簿内订单，支持 O(1) 撤单
type restingRef struct {
	side    OrderSide
	key     float64
	level   *PriceLevel
	element *list.Element
}

// OrderBook 单交易对内存订单簿
// 买盘 Key 为 -Price (降序遍历)，卖盘 Key 为 Price (升序遍历)；
// 无锁设计，由撮合引擎的互斥区独占访问
type OrderBook struct {
	Symbol string

	bids  *algorithm.SkipList[float64, *PriceLevel]
	asks  *algorithm.SkipList[float64, *PriceLevel]
	index map[string]*restingRef
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   algorithm.NewSkipList[float64, *PriceLevel](),
		asks:   algorithm.NewSkipList[float64, *PriceLevel](),
		index:  make(map[string]*restingRef),
	}
}

func (ob *OrderBook) sideList(side OrderSide) *algorithm.SkipList[float64, *PriceLevel] {
	if side == OrderSideBuy {
		return ob.bids
	}
	return ob.asks
}

// levelKey 档位的跳表键：买盘取负价降序，卖盘取正价升序。
// 键只承担排序，精度为 float64：超出其分辨率的两个 decimal 价格会落入
// 同一档位，对外报价与成交价始终取该档位首个挂单的 decimal 价格
func levelKey(side OrderSide, price decimal.Decimal) float64 {
	if side == OrderSideBuy {
		return -price.InexactFloat64()
	}
	return price.InexactFloat64()
}

// Insert 将非可成交订单（或部分成交后的剩余）挂入对应价格档位队尾
func (ob *OrderBook) Insert(order *Order) error {
	if !order.Quantity.IsPositive() || !order.Price.IsPositive() {
		return ErrInvalidOrder
	}
	if _, exists := ob.index[order.OrderID]; exists {
		return fmt.Errorf("order %s already resting: %w", order.OrderID, ErrInvalidOrder)
	}

	book := ob.sideList(order.Side)
	key := levelKey(order.Side, order.Price)
	level, ok := book.Search(key)
	if !ok {
		level = NewPriceLevel(order.Price)
		book.Insert(key, level)
	}
	el := level.Orders.PushBack(order)
	ob.index[order.OrderID] = &restingRef{side: order.Side, key: key, level: level, element: el}
	return nil
}

// Best 返回一侧的最优价格档位，簿空时 ok 为 false
func (ob *OrderBook) Best(side OrderSide) (*PriceLevel, bool) {
	it := ob.sideList(side).Iterator()
	_, level, ok := it.Next()
	if !ok {
		return nil, false
	}
	return level, true
}

// Remove 按订单 ID 移除簿内订单（撤单路径）
func (ob *OrderBook) Remove(orderID string) (*Order, error) {
	ref, ok := ob.index[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	order := ref.element.Value.(*Order)
	ref.level.Orders.Remove(ref.element)
	if ref.level.Orders.Len() == 0 {
		ob.sideList(ref.side).Delete(ref.key)
	}
	delete(ob.index, orderID)
	return order, nil
}

// Lookup 查询簿内订单
func (ob *OrderBook) Lookup(orderID string) (*Order, bool) {
	ref, ok := ob.index[orderID]
	if !ok {
		return nil, false
	}
	return ref.element.Value.(*Order), true
}

// IsCrossed 最优买价 >= 最优卖价时为 true，意味着必须立即撮合
func (ob *OrderBook) IsCrossed() bool {
	bestBid, ok := ob.Best(OrderSideBuy)
	if !ok {
		return false
	}
	bestAsk, ok := ob.Best(OrderSideSell)
	if !ok {
		return false
	}
	return bestBid.Price.GreaterThanOrEqual(bestAsk.Price)
}

// dequeue 撮合完成后从档位队首移除订单
func (ob *OrderBook) dequeue(side OrderSide, level *PriceLevel, el *list.Element, key float64) {
	order := el.Value.(*Order)
	level.Orders.Remove(el)
	delete(ob.index, order.OrderID)
	if level.Orders.Len() == 0 {
		ob.sideList(side).Delete(key)
	}
}

// Snapshot 深度快照，depth<=0 表示全部档位
func (ob *OrderBook) Snapshot(depth int) *BookSnapshot {
	return &BookSnapshot{
		Symbol: ob.Symbol,
		Bids:   collectLevels(ob.bids, depth),
		Asks:   collectLevels(ob.asks, depth),
	}
}

func collectLevels(book *algorithm.SkipList[float64, *PriceLevel], depth int) []BookLevel {
	var levels []BookLevel
	it := book.Iterator()
	for {
		if depth > 0 && len(levels) >= depth {
			break
		}
		_, level, ok := it.Next()
		if !ok {
			break
		}
		levels = append(levels, BookLevel{Price: level.Price, Quantity: level.TotalQuantity()})
	}
	return levels
}

// BookLevel 快照中的一个价格档位
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BookSnapshot 订单簿快照
type BookSnapshot struct {
	Symbol string      `json:"symbol"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
}
