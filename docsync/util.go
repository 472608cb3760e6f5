package docsync

import (
	"sync"

	"golang.org/x/exp/slices"
)

type callbackEntry[T any] struct {
	id       int
	callback T
}

// CallbackList makes a copy of the list on update,
// so a callback may add or remove callbacks while the list is being notified.
type CallbackList[T any] struct {
	mutex     sync.Mutex
	nextId    int
	callbacks []callbackEntry[T]
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.callbacks))
	for _, entry := range self.callbacks {
		callbacks = append(callbacks, entry.callback)
	}
	return callbacks
}

// Add returns a function that removes the callback. Calling it more than once is a no-op.
func (self *CallbackList[T]) Add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	id := self.nextId
	self.nextId += 1
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, callbackEntry[T]{
		id:       id,
		callback: callback,
	})
	self.callbacks = nextCallbacks

	return func() {
		self.remove(id)
	}
}

func (self *CallbackList[T]) remove(id int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.callbacks, func(entry callbackEntry[T]) bool {
		return entry.id == id
	})
	if i < 0 {
		// not present
		return
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbacks = nextCallbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}
