package docsync

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// StorageEvent reports a change made to a shared storage slot.
type StorageEvent struct {
	Key     string
	Value   string
	Removed bool
}

// Storage is a string key/value area shared by the tabs of one profile.
// Subscribers see changes made through other handles. A handle may also echo its own writes.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key string, value string) error
	Remove(key string) error
	Keys() ([]string, error)
	// Subscribe returns a function that unsubscribes.
	Subscribe(callback func(event *StorageEvent)) func()
}

// MemoryStorageProfile is one in-process storage area. Each `Handle` acts as one tab.
// Events are delivered on one goroutine per subscriber, in write order.
type MemoryStorageProfile struct {
	stateLock sync.Mutex
	values    map[string]string
	handles   []*MemoryStorage
	pending   sync.WaitGroup
}

func NewMemoryStorageProfile() *MemoryStorageProfile {
	return &MemoryStorageProfile{
		values: map[string]string{},
	}
}

func (self *MemoryStorageProfile) Handle() *MemoryStorage {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	handle := &MemoryStorage{
		profile: self,
	}
	self.handles = append(self.handles, handle)
	return handle
}

// Wait blocks until every event written so far has been delivered.
func (self *MemoryStorageProfile) Wait() {
	self.pending.Wait()
}

func (self *MemoryStorageProfile) notify(source *MemoryStorage, event *StorageEvent) {
	for _, handle := range self.handles {
		if handle == source {
			continue
		}
		for _, subscriber := range handle.subscribers.Get() {
			self.pending.Add(1)
			subscriber.enqueue(event)
		}
	}
}

type MemoryStorage struct {
	profile     *MemoryStorageProfile
	subscribers CallbackList[*memorySubscriber]
}

func (self *MemoryStorage) Get(key string) (string, bool, error) {
	self.profile.stateLock.Lock()
	defer self.profile.stateLock.Unlock()
	value, ok := self.profile.values[key]
	return value, ok, nil
}

func (self *MemoryStorage) Set(key string, value string) error {
	self.profile.stateLock.Lock()
	defer self.profile.stateLock.Unlock()
	self.profile.values[key] = value
	self.profile.notify(self, &StorageEvent{
		Key:   key,
		Value: value,
	})
	return nil
}

func (self *MemoryStorage) Remove(key string) error {
	self.profile.stateLock.Lock()
	defer self.profile.stateLock.Unlock()
	if _, ok := self.profile.values[key]; !ok {
		return nil
	}
	delete(self.profile.values, key)
	self.profile.notify(self, &StorageEvent{
		Key:     key,
		Removed: true,
	})
	return nil
}

func (self *MemoryStorage) Keys() ([]string, error) {
	self.profile.stateLock.Lock()
	defer self.profile.stateLock.Unlock()
	keys := maps.Keys(self.profile.values)
	slices.Sort(keys)
	return keys, nil
}

func (self *MemoryStorage) Subscribe(callback func(event *StorageEvent)) func() {
	subscriber := &memorySubscriber{
		callback: callback,
		pending:  &self.profile.pending,
	}
	return self.subscribers.Add(subscriber)
}

type memorySubscriber struct {
	callback func(event *StorageEvent)
	pending  *sync.WaitGroup

	stateLock sync.Mutex
	queue     []*StorageEvent
	running   bool
}

func (self *memorySubscriber) enqueue(event *StorageEvent) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.queue = append(self.queue, event)
	if !self.running {
		self.running = true
		go self.run()
	}
}

func (self *memorySubscriber) run() {
	for {
		self.stateLock.Lock()
		if len(self.queue) == 0 {
			self.running = false
			self.stateLock.Unlock()
			return
		}
		event := self.queue[0]
		self.queue = self.queue[1:]
		self.stateLock.Unlock()

		HandleError(func() {
			self.callback(event)
		})
		self.pending.Done()
	}
}

// SessionStorage is the per-tab slot area that survives a reload of the same tab.
type SessionStorage interface {
	Get(key string) (string, bool)
	Set(key string, value string)
}

type MemorySessionStorage struct {
	stateLock sync.Mutex
	values    map[string]string
}

func NewMemorySessionStorage() *MemorySessionStorage {
	return &MemorySessionStorage{
		values: map[string]string{},
	}
}

func (self *MemorySessionStorage) Get(key string) (string, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	value, ok := self.values[key]
	return value, ok
}

func (self *MemorySessionStorage) Set(key string, value string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.values[key] = value
}
