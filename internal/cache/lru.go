package cache

import "sync"

// lru is a byte-bounded least-recently-used map of transformed text. It sits
// in front of the on-disk store so hot modules are served without a read.
type lru struct {
	entries map[string]*lruEntry
	mutex   sync.Mutex
	maxSize int64
	size    int64
	// sentinels of the recency list; head.next is the most recent entry
	head *lruEntry
	tail *lruEntry
}

type lruEntry struct {
	key   string
	value string
	prev  *lruEntry
	next  *lruEntry
}

func newLRU(maxSize int64) *lru {
	l := &lru{
		entries: make(map[string]*lruEntry),
		maxSize: maxSize,
		head:    &lruEntry{},
		tail:    &lruEntry{},
	}
	l.head.next = l.tail
	l.tail.prev = l.head
	return l
}

func (l *lru) get(key string) (string, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		return "", false
	}
	l.moveToFront(entry)
	return entry.value, true
}

func (l *lru) set(key, value string) {
	size := int64(len(value))
	if size > l.maxSize {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if existing, ok := l.entries[key]; ok {
		l.size += size - int64(len(existing.value))
		existing.value = value
		l.moveToFront(existing)
		l.evict()
		return
	}

	entry := &lruEntry{key: key, value: value}
	l.entries[key] = entry
	l.size += size
	l.addToFront(entry)
	l.evict()
}

func (l *lru) stats() (int, int64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.entries), l.size
}

// evict drops entries from the tail until the size bound holds.
func (l *lru) evict() {
	for l.size > l.maxSize && l.tail.prev != l.head {
		victim := l.tail.prev
		l.remove(victim)
		delete(l.entries, victim.key)
		l.size -= int64(len(victim.value))
	}
}

func (l *lru) addToFront(entry *lruEntry) {
	entry.prev = l.head
	entry.next = l.head.next
	l.head.next.prev = entry
	l.head.next = entry
}

func (l *lru) remove(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (l *lru) moveToFront(entry *lruEntry) {
	l.remove(entry)
	l.addToFront(entry)
}
