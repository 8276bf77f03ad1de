package space

import (
	"github.com/gammazero/deque"
)

// priority очередность пересчёта; большие значения обрабатываются раньше
type priority uint8

const (
	// priorityBulk первичное освещение и массовые пересчёты
	priorityBulk priority = iota
	// priorityPropagate соседи ячейки, чей свет изменился
	priorityPropagate
	// priorityEdit ячейки, затронутые правкой
	priorityEdit

	numPriorities
)

// lightQueue множество ячеек, ожидающих пересчёта, без повторов.
// Внутри приоритета порядок FIFO. Повышение приоритета кладёт ячейку в
// старшую корзину; запись в младшей корзине остаётся и пропускается при
// извлечении.
type lightQueue struct {
	buckets [numPriorities]*deque.Deque[int]
	// queued приоритет+1 ячейки в очереди; 0, если ячейки в очереди нет
	queued []uint8
	state  []LightState
	n      int
}

func newLightQueue(volume int) *lightQueue {
	q := &lightQueue{
		queued: make([]uint8, volume),
		state:  make([]LightState, volume),
	}
	for i := range q.buckets {
		q.buckets[i] = deque.New[int]()
	}
	return q
}

// push ставит ячейку в очередь или повышает её приоритет
func (q *lightQueue) push(idx int, p priority) {
	cur := q.queued[idx]
	if cur >= uint8(p)+1 {
		return
	}
	if cur == 0 {
		q.n++
	}
	q.queued[idx] = uint8(p) + 1
	q.state[idx] = LightQueued
	q.buckets[p].PushBack(idx)
}

// pop извлекает ячейку с наибольшим приоритетом и переводит её в Computing
func (q *lightQueue) pop() (int, bool) {
	for p := int(numPriorities) - 1; p >= 0; p-- {
		b := q.buckets[p]
		for b.Len() > 0 {
			idx := b.PopFront()
			if q.queued[idx] != uint8(p)+1 {
				continue
			}
			q.queued[idx] = 0
			q.n--
			q.state[idx] = LightComputing
			return idx, true
		}
	}
	return 0, false
}

// settle завершает обработку ячейки. Если во время вычисления ячейку снова
// поставили в очередь, она остаётся Queued.
func (q *lightQueue) settle(idx int) {
	if q.queued[idx] == 0 {
		q.state[idx] = LightSettled
	}
}

func (q *lightQueue) len() int {
	return q.n
}
