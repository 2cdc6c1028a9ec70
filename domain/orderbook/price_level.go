package orderbook

// PriceLevel is a FIFO queue at a single price.
type PriceLevel struct {
	Price int64

	head *Order
	tail *Order

	TotalQty   int64
	OrderCount int
}

func (p *PriceLevel) enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	o.level = p
	p.TotalQty += o.Remaining()
	p.OrderCount++
}

// unlink removes o from anywhere in the queue in O(1).
func (p *PriceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}

	p.TotalQty -= o.Remaining()
	p.OrderCount--

	o.next = nil
	o.prev = nil
	o.level = nil
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Head is a read-only helper.
func (p *PriceLevel) Head() *Order {
	return p.head
}

// Each walks the queue in arrival order until fn returns false.
func (p *PriceLevel) Each(fn func(*Order) bool) {
	for o := p.head; o != nil; o = o.next {
		if !fn(o) {
			return
		}
	}
}
