package docsync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"golang.org/x/exp/slices"
)

// a directory storage profile is shared by processes on one host:
//
//	<dir>/slots/<key>    current value of each slot
//	<dir>/events/<ulid>  one change record per write, watched by every handle
//
// change records carry the value, so a slot that is set and removed right away
// is still observed as a set then a remove.

type DirStorageSettings struct {
	// change records older than this are pruned on write
	EventRetention time.Duration
}

func DefaultDirStorageSettings() *DirStorageSettings {
	return &DirStorageSettings{
		EventRetention: 1 * time.Minute,
	}
}

type dirStorageEvent struct {
	Key      string `json:"k"`
	Value    string `json:"v,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
	WriterId Id     `json:"w"`
}

type DirStorage struct {
	ctx    context.Context
	cancel context.CancelFunc

	slotsDir  string
	eventsDir string
	writerId  Id
	settings  *DirStorageSettings

	watcher *fsnotify.Watcher

	stateLock   sync.Mutex
	subscribers CallbackList[func(event *StorageEvent)]
}

func NewDirStorageWithDefaults(ctx context.Context, dir string) (*DirStorage, error) {
	return NewDirStorage(ctx, dir, DefaultDirStorageSettings())
}

func NewDirStorage(ctx context.Context, dir string, settings *DirStorageSettings) (*DirStorage, error) {
	slotsDir := filepath.Join(dir, "slots")
	eventsDir := filepath.Join(dir, "events")
	for _, d := range []string{slotsDir, eventsDir} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(eventsDir); err != nil {
		watcher.Close()
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	storage := &DirStorage{
		ctx:       cancelCtx,
		cancel:    cancel,
		slotsDir:  slotsDir,
		eventsDir: eventsDir,
		writerId:  NewId(),
		settings:  settings,
		watcher:   watcher,
	}
	go storage.run()
	return storage, nil
}

func slotFileName(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func slotKey(name string) (string, bool) {
	b, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func writeFileAtomic(dir string, name string, data []byte) error {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return err
	}
	success = true
	return nil
}

func (self *DirStorage) Get(key string) (string, bool, error) {
	b, err := os.ReadFile(filepath.Join(self.slotsDir, slotFileName(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

func (self *DirStorage) Set(key string, value string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if err := writeFileAtomic(self.slotsDir, slotFileName(key), []byte(value)); err != nil {
		return err
	}
	return self.publish(&dirStorageEvent{
		Key:      key,
		Value:    value,
		WriterId: self.writerId,
	})
}

func (self *DirStorage) Remove(key string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	err := os.Remove(filepath.Join(self.slotsDir, slotFileName(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return self.publish(&dirStorageEvent{
		Key:      key,
		Removed:  true,
		WriterId: self.writerId,
	})
}

func (self *DirStorage) Keys() ([]string, error) {
	entries, err := os.ReadDir(self.slotsDir)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if key, ok := slotKey(entry.Name()); ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (self *DirStorage) Subscribe(callback func(event *StorageEvent)) func() {
	return self.subscribers.Add(callback)
}

func (self *DirStorage) publish(event *dirStorageEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(self.eventsDir, ulid.Make().String(), b); err != nil {
		return err
	}
	self.prune()
	return nil
}

func (self *DirStorage) prune() {
	entries, err := os.ReadDir(self.eventsDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-self.settings.EventRetention)
	for _, entry := range entries {
		id, err := ulid.ParseStrict(entry.Name())
		if err != nil {
			continue
		}
		if ulid.Time(id.Time()).Before(cutoff) {
			os.Remove(filepath.Join(self.eventsDir, entry.Name()))
		}
	}
}

func (self *DirStorage) run() {
	defer self.watcher.Close()

	for {
		select {
		case <-self.ctx.Done():
			return
		case event, ok := <-self.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") {
				continue
			}
			self.deliver(event.Name)
		case err, ok := <-self.watcher.Errors:
			if !ok {
				return
			}
			glog.Infof("[s]watch %s = %s\n", self.eventsDir, err)
		}
	}
}

func (self *DirStorage) deliver(path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		// pruned before it was read
		glog.V(2).Infof("[s]event %s = %s\n", path, err)
		return
	}
	var event dirStorageEvent
	if err := json.Unmarshal(b, &event); err != nil {
		glog.Infof("[s]event %s = %s\n", path, err)
		return
	}
	if event.WriterId == self.writerId {
		return
	}
	storageEvent := &StorageEvent{
		Key:     event.Key,
		Value:   event.Value,
		Removed: event.Removed,
	}
	for _, callback := range self.subscribers.Get() {
		HandleError(func() {
			callback(storageEvent)
		})
	}
}

func (self *DirStorage) Close() {
	self.cancel()
}
