package core

import (
	"container/list"
	"fmt"
)

// DBIdempotencyChecker is the interface for the Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU for
// the hot path and the event log table for keys that aged out of it.
// Not thread-safe; only accessed under the single-writer lock.
type IdempotencyChecker struct {
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker

	lruHits  int64
	dbHits   int64
	dbErrors int64
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks if the event has been processed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", eventType, idempotencyKey)

	if ic.lru.contains(compositeKey) {
		ic.lruHits++
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// Assume not duplicate so a DB issue cannot block processing;
			// the event log's ON CONFLICT clause catches true duplicates.
			ic.dbErrors++
			return false
		}
		if isDup {
			ic.dbHits++
			ic.lru.add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed adds the key to the LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.add(fmt.Sprintf("%s:%s", eventType, idempotencyKey))
}

// Warm loads composite keys recovered from the event log on restart
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.add(key)
	}
}

// Keys returns all cached composite keys for snapshots
func (ic *IdempotencyChecker) Keys() []string {
	keys := make([]string, 0, len(ic.lru.cache))
	for elem := ic.lru.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

// Stats returns hit counters for monitoring
func (ic *IdempotencyChecker) Stats() (lruHits, dbHits, dbErrors int64) {
	return ic.lruHits, ic.dbHits, ic.dbErrors
}

// --- LRU ---

type idempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (lru *idempotencyLRU) contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.order.MoveToFront(elem)
	}
	return exists
}

func (lru *idempotencyLRU) add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.order.MoveToFront(elem)
		return
	}

	lru.cache[key] = lru.order.PushFront(key)

	if lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
	}
}
