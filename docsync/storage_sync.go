package docsync

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/golang/glog"
	"google.golang.org/protobuf/types/known/structpb"
)

// the cross-tab script slot. a write carries `{js, instanceId}` and is removed right after.
const ExecJsSlot = "WFF_EXEC_JS"

type execJsSlotValue struct {
	Js         string `json:"js"`
	InstanceId string `json:"instanceId"`
}

type storageWrite struct {
	writeTime int64
	id        int64
}

// StorageSync applies storage tasks from the authority with last-writer-wins,
// and propagates token changes made by other tabs back to the authority.
type StorageSync struct {
	storage      Storage
	taskValues   *TaskValues
	instanceId   string
	nodeId       string
	send         func(message []byte) error
	scriptEngine ScriptEngine

	stateLock sync.Mutex
	// last token write forwarded per key
	forwarded map[string]storageWrite

	unsubscribe func()
}

func NewStorageSync(
	storage Storage,
	taskValues *TaskValues,
	instanceId string,
	nodeId string,
	send func(message []byte) error,
	scriptEngine ScriptEngine,
) *StorageSync {
	if scriptEngine == nil {
		scriptEngine = &NoScriptEngine{}
	}
	storageSync := &StorageSync{
		storage:      storage,
		taskValues:   taskValues,
		instanceId:   instanceId,
		nodeId:       nodeId,
		send:         send,
		scriptEngine: scriptEngine,
		forwarded:    map[string]storageWrite{},
	}
	storageSync.unsubscribe = storage.Subscribe(storageSync.storageChanged)
	return storageSync
}

func (self *StorageSync) Close() {
	self.unsubscribe()
}

// read treats a corrupt record as absent.
func (self *StorageSync) read(slot string) *StorageRecord {
	s, ok, err := self.storage.Get(slot)
	if err != nil {
		glog.Infof("[s]read %s = %s\n", slot, err)
		return nil
	}
	if !ok {
		return nil
	}
	record, err := ParseStorageRecord(s)
	if err != nil {
		glog.Infof("[s]%s = %s\n", slot, err)
		return nil
	}
	return record
}

func (self *StorageSync) write(slot string, record *StorageRecord) {
	if err := self.storage.Set(slot, record.Json()); err != nil {
		glog.Infof("[s]write %s = %s\n", slot, err)
	}
}

// remove writes a tombstone so peers can order the removal, then deletes the slot.
func (self *StorageSync) remove(slot string, class StorageClass, record *StorageRecord, writeTime int64, id int64) {
	tombstone := &StorageRecord{
		Value:     record.Value,
		WriteTime: writeTime,
		Id:        id,
		Removed:   true,
	}
	if class == StorageToken {
		tombstone.NodeId = self.nodeId
	}
	self.write(slot, tombstone)
	if err := self.storage.Remove(slot); err != nil {
		glog.Infof("[s]remove %s = %s\n", slot, err)
	}
}

type storageArgs struct {
	key       string
	value     string
	writeTime int64
	id        int64
	idBytes   []byte
	callback  bool
}

func parseStorageArgs(obj *structpb.Struct, needKey bool) (*storageArgs, bool) {
	args := &storageArgs{}
	var ok bool
	if needKey {
		if args.key, ok = bmString(obj, "k"); !ok || args.key == "" {
			return nil, false
		}
	}
	if args.writeTime, ok = bmInt(obj, "wt"); !ok {
		return nil, false
	}
	if args.id, ok = bmInt(obj, "id"); !ok {
		return nil, false
	}
	if args.idBytes, ok = bmBytes(obj, "id"); !ok || len(args.idBytes) == 0 {
		args.idBytes = OptimizedBytesFromInt(uint32(args.id))
	}
	args.value, _ = bmString(obj, "v")
	args.callback, _ = bmBool(obj, "cb")
	return args, true
}

// HandleTask applies one storage task from the authority.
func (self *StorageSync) HandleTask(code TaskCode, obj *structpb.Struct) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	switch code {
	case TaskSetLSItem:
		args, ok := parseStorageArgs(obj, true)
		if !ok {
			return self.invalid(code)
		}
		slot := StorageData.Key(args.key)
		if self.read(slot).Supersedes(args.writeTime, args.id) {
			self.write(slot, &StorageRecord{
				Value:     args.value,
				WriteTime: args.writeTime,
				Id:        args.id,
			})
		} else {
			glog.V(2).Infof("[s]set %s (%d, %d) superseded\n", slot, args.writeTime, args.id)
		}
		if args.callback {
			self.ack(code, args.idBytes)
		}

	case TaskGetLSItem:
		key, ok := bmString(obj, "k")
		idBytes, idOk := bmBytes(obj, "id")
		if !idOk {
			if id, ok := bmInt(obj, "id"); ok {
				idBytes, idOk = OptimizedBytesFromInt(uint32(id)), true
			}
		}
		if !ok || key == "" || !idOk || len(idBytes) == 0 {
			return self.invalid(code)
		}
		record := self.read(StorageData.Key(key))
		if record != nil && !record.Removed {
			self.ack(code, idBytes, []byte(record.Value), []byte(strconv.FormatInt(record.WriteTime, 10)))
		} else {
			self.ack(code, idBytes)
		}

	case TaskRemoveLSItem, TaskRemoveAndGetLSItem:
		args, ok := parseStorageArgs(obj, true)
		if !ok {
			return self.invalid(code)
		}
		slot := StorageData.Key(args.key)
		record := self.read(slot)
		if record != nil && record.Supersedes(args.writeTime, args.id) {
			self.remove(slot, StorageData, record, args.writeTime, args.id)
		}
		if args.callback {
			if code == TaskRemoveAndGetLSItem && record != nil && !record.Removed {
				self.ack(code, args.idBytes, []byte(record.Value), []byte(strconv.FormatInt(record.WriteTime, 10)))
			} else {
				self.ack(code, args.idBytes)
			}
		}

	case TaskClearLS:
		args, ok := parseStorageArgs(obj, false)
		if !ok {
			return self.invalid(code)
		}
		tp, _ := bmString(obj, "tp")
		classes := map[StorageClass]bool{}
		switch tp {
		case "D":
			classes[StorageData] = true
		case "T":
			classes[StorageToken] = true
		case "DT":
			classes[StorageData] = true
			classes[StorageToken] = true
		default:
			return self.invalid(code)
		}
		slots, err := self.storage.Keys()
		if err != nil {
			return err
		}
		for _, slot := range slots {
			_, class, ok := SplitStorageKey(slot)
			if !ok || !classes[class] {
				continue
			}
			// each key is ordered on its own
			record := self.read(slot)
			if record != nil && record.Supersedes(args.writeTime, args.id) {
				self.remove(slot, class, record, args.writeTime, args.id)
			}
		}
		if args.callback {
			self.ack(code, args.idBytes)
		}

	case TaskSetLSToken:
		args, ok := parseStorageArgs(obj, true)
		if !ok {
			return self.invalid(code)
		}
		slot := StorageToken.Key(args.key)
		if self.read(slot).Supersedes(args.writeTime, args.id) {
			self.write(slot, &StorageRecord{
				Value:     args.value,
				WriteTime: args.writeTime,
				Id:        args.id,
				NodeId:    self.nodeId,
			})
			self.forwarded[args.key] = storageWrite{args.writeTime, args.id}
		}

	case TaskRemoveLSToken:
		args, ok := parseStorageArgs(obj, true)
		if !ok {
			return self.invalid(code)
		}
		slot := StorageToken.Key(args.key)
		record := self.read(slot)
		if record != nil && record.Supersedes(args.writeTime, args.id) {
			self.remove(slot, StorageToken, record, args.writeTime, args.id)
			self.forwarded[args.key] = storageWrite{args.writeTime, args.id}
		}

	default:
		return self.invalid(code)
	}
	return nil
}

func (self *StorageSync) invalid(code TaskCode) error {
	glog.Infof("[s]%s with missing arguments dropped\n", code)
	return nil
}

// ack: {name: request id, values: [value, write time]?}
func (self *StorageSync) ack(code TaskCode, idBytes []byte, values ...[]byte) {
	message := self.taskValues.TaskMessage(code, NewNameValue(idBytes, values...))
	if err := self.send(message); err != nil {
		glog.Infof("[s]ack %s = %s\n", code, err)
	}
}

// BroadcastScript asks every other tab to run the script.
func (self *StorageSync) BroadcastScript(script string) error {
	b, err := json.Marshal(&execJsSlotValue{
		Js:         script,
		InstanceId: self.instanceId,
	})
	if err != nil {
		return err
	}
	if err := self.storage.Set(ExecJsSlot, string(b)); err != nil {
		return err
	}
	return self.storage.Remove(ExecJsSlot)
}

func (self *StorageSync) storageChanged(event *StorageEvent) {
	if event.Key == ExecJsSlot {
		if event.Removed {
			return
		}
		var value execJsSlotValue
		if err := json.Unmarshal([]byte(event.Value), &value); err != nil {
			glog.Infof("[s]%s = %s\n", ExecJsSlot, err)
			return
		}
		if value.InstanceId == self.instanceId {
			return
		}
		runScript(value.Js, func() error {
			return self.scriptEngine.Exec(value.Js)
		})
		return
	}

	key, class, ok := SplitStorageKey(event.Key)
	if !ok || class != StorageToken || event.Removed {
		// a physical delete follows a tombstone that was already seen
		return
	}
	record, err := ParseStorageRecord(event.Value)
	if err != nil {
		glog.Infof("[s]%s = %s\n", event.Key, err)
		return
	}
	if record.NodeId == self.nodeId {
		return
	}

	self.stateLock.Lock()
	last, ok := self.forwarded[key]
	if ok && !(&StorageRecord{WriteTime: last.writeTime, Id: last.id}).Supersedes(record.WriteTime, record.Id) {
		self.stateLock.Unlock()
		return
	}
	self.forwarded[key] = storageWrite{record.WriteTime, record.Id}
	self.stateLock.Unlock()

	item := map[string]any{
		"k":  key,
		"wt": strconv.FormatInt(record.WriteTime, 10),
		"id": float64(record.Id),
	}
	code := TaskSetLSToken
	if record.Removed {
		code = TaskRemoveLSToken
	} else {
		item["v"] = record.Value
	}
	message, err := self.tokenMessage(code, []map[string]any{item})
	if err != nil {
		glog.Infof("[s]forward %s = %s\n", key, err)
		return
	}
	glog.V(2).Infof("[s]forward %s %s\n", code, key)
	if err := self.send(message); err != nil {
		glog.Infof("[s]forward %s = %s\n", key, err)
	}
}

// {name: [code], values: [bm array of token items]}
func (self *StorageSync) tokenNameValue(code TaskCode, items []map[string]any) (*NameValue, error) {
	values := []any{}
	for _, item := range items {
		values = append(values, item)
	}
	arr, err := structpb.NewList(values)
	if err != nil {
		return nil, err
	}
	b, err := EncodeBMArray(arr)
	if err != nil {
		return nil, err
	}
	return NewNameValue([]byte{self.taskValues.mustValue(code)}, b), nil
}

func (self *StorageSync) tokenMessage(code TaskCode, items []map[string]any) ([]byte, error) {
	nameValue, err := self.tokenNameValue(code, items)
	if err != nil {
		return nil, err
	}
	return self.taskValues.TaskMessage(code, nameValue), nil
}

// TokenBatch collects every live token record as `{k, v, id, wt}` items.
// The record is nil when there are no tokens.
func (self *StorageSync) TokenBatch() (*NameValue, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	slots, err := self.storage.Keys()
	if err != nil {
		return nil, err
	}
	items := []map[string]any{}
	for _, slot := range slots {
		key, class, ok := SplitStorageKey(slot)
		if !ok || class != StorageToken {
			continue
		}
		record := self.read(slot)
		if record == nil || record.Removed {
			continue
		}
		items = append(items, map[string]any{
			"k":  key,
			"v":  record.Value,
			"id": float64(record.Id),
			"wt": strconv.FormatInt(record.WriteTime, 10),
		})
	}
	if len(items) == 0 {
		return nil, nil
	}
	return self.tokenNameValue(TaskSetLSToken, items)
}
