package docsync

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bringyour/docsync/docsync/dom"
)

// EngineCollaborators handle the tasks that are not tree mutations.
// A nil collaborator drops its tasks.
type EngineCollaborators struct {
	Navigator    *Navigator
	StorageSync  *StorageSync
	Calls        *AsyncCalls
	ScriptEngine ScriptEngine
	Reloader     Reloader
}

// Engine applies inbound task messages to the live tree.
// Callers serialize `Process`; the engine holds no state beyond the registry.
type Engine struct {
	symbols    *Symbols
	taskValues *TaskValues
	registry   *Registry
	attrs      *attributeSetter
	subtrees   *subtreeBuilder

	collaborators *EngineCollaborators
}

func NewEngine(
	symbols *Symbols,
	taskValues *TaskValues,
	registry *Registry,
	collaborators *EngineCollaborators,
) *Engine {
	attrs := &attributeSetter{
		symbols: symbols,
	}
	if collaborators == nil {
		collaborators = &EngineCollaborators{}
	}
	if collaborators.ScriptEngine == nil {
		collaborators.ScriptEngine = &NoScriptEngine{}
	}
	if collaborators.Reloader == nil {
		collaborators.Reloader = &noReloader{}
	}
	return &Engine{
		symbols:    symbols,
		taskValues: taskValues,
		registry:   registry,
		attrs:      attrs,
		subtrees: &subtreeBuilder{
			symbols:  symbols,
			registry: registry,
			attrs:    attrs,
		},
		collaborators: collaborators,
	}
}

// Process decodes and applies one message.
// A `*FormatError` means nothing in the message was applied.
func (self *Engine) Process(message []byte) error {
	nameValues, err := DecodeMessage(message)
	if err != nil {
		return err
	}
	return self.processNameValues(nameValues)
}

func (self *Engine) processNameValues(nameValues []*NameValue) (returnErr error) {
	if len(nameValues) == 0 {
		return formatErrorf(0, "message without task record")
	}
	taskNameValue := nameValues[0]
	switch {
	case self.taskValues.is(taskNameValue.Name, TaskSingle):
		HandleError(func() {
			returnErr = self.invokeTask(nameValues)
		}, func(err error) {
			returnErr = err
		})
		return
	case self.taskValues.is(taskNameValue.Name, TaskOfTasks):
		for i, taskMessage := range taskNameValue.Values {
			taskNameValues, err := DecodeMessage(taskMessage)
			if err == nil {
				err = self.processNameValues(taskNameValues)
			}
			if err != nil {
				glog.Infof("[p]task %d of %d dropped = %s\n", i, len(taskNameValue.Values), err)
			}
		}
		return nil
	default:
		return formatErrorf(0, "task category %x", taskNameValue.Name)
	}
}

func (self *Engine) invokeTask(nameValues []*NameValue) error {
	taskNameValue := nameValues[0]
	if len(taskNameValue.Values) == 0 || len(taskNameValue.Values[0]) == 0 {
		return formatErrorf(0, "task record without code")
	}
	code := self.taskValues.Code(taskNameValue.Values[0][0])
	records := nameValues[1:]
	glog.V(2).Infof("[p]%s (%d records)\n", code, len(records))

	switch code {
	case TaskAttributeUpdated:
		self.attributeUpdated(records)
	case TaskAddedAttributes:
		self.addedAttributes(records)
	case TaskRemovedAttributes:
		self.removedAttributes(records)
	case TaskAppendedChildTag, TaskAppendedChildrenTags:
		self.appendedChildren(records)
	case TaskRemovedTags:
		self.removedTags(records)
	case TaskRemovedAllChildrenTags:
		self.removedAllChildren(records)
	case TaskMovedChildrenTags:
		self.movedChildren(records)
	case TaskInsertedBeforeTag:
		return self.movable(insertBeforeMode, records)
	case TaskInsertedAfterTag:
		return self.movable(insertAfterMode, records)
	case TaskReplacedWithTags:
		return self.movable(replaceMode, records)
	case TaskPrependedChildrenTags:
		return self.movable(prependMode, records)
	case TaskAddedInnerHtml:
		return self.movable(replaceChildrenMode, records)
	case TaskCopyInnerTextToValue:
		return self.copyInnerTextToValue(records)
	case TaskSetBMObjOnTag, TaskSetBMArrOnTag:
		return self.setObjectOnTag(code, records)
	case TaskDelBMObjOrArrFromTag:
		return self.deleteObjectFromTag(records)
	case TaskExecJs:
		return self.execJs(taskNameValue)
	case TaskInvokePostFunction:
		return self.invokePostFunction(records)
	case TaskInvokeCallbackFunction:
		return self.invokeCallbackFunction(records)
	case TaskReloadBrowser:
		self.collaborators.Reloader.Reload(false)
	case TaskReloadBrowserFromCache:
		self.collaborators.Reloader.Reload(true)
	case TaskSetUri:
		if self.collaborators.Navigator == nil {
			return self.unhandled(code)
		}
		obj, err := taskArgument(taskNameValue)
		if err != nil {
			return err
		}
		self.collaborators.Navigator.serverSetUri(obj)
	case TaskAfterSetUri:
		if self.collaborators.Navigator == nil {
			return self.unhandled(code)
		}
		self.collaborators.Navigator.serverAfterSetUri()
	case TaskSetLSItem,
		TaskGetLSItem,
		TaskRemoveLSItem,
		TaskRemoveAndGetLSItem,
		TaskClearLS,
		TaskSetLSToken,
		TaskRemoveLSToken:
		if self.collaborators.StorageSync == nil {
			return self.unhandled(code)
		}
		obj, err := taskArgument(taskNameValue)
		if err != nil {
			return err
		}
		return self.collaborators.StorageSync.HandleTask(code, obj)
	default:
		return self.unhandled(code)
	}
	return nil
}

func (self *Engine) unhandled(code TaskCode) error {
	glog.V(1).Infof("[p]unhandled task %s\n", code)
	return nil
}

// taskArgument reads the bm object carried in the task record itself.
func taskArgument(taskNameValue *NameValue) (*structpb.Struct, error) {
	if len(taskNameValue.Values) < 2 {
		return nil, formatErrorf(0, "task record without argument")
	}
	return DecodeBMObject(taskNameValue.Values[1])
}

// skip logs a record that could not be applied. The remaining records continue.
func (self *Engine) skip(what string, i int, err error) {
	if errors.Is(err, ErrUnresolvedIdentity) {
		glog.V(1).Infof("[p]%s record %d skipped = %s\n", what, i, err)
	} else {
		glog.Infof("[p]%s record %d skipped = %s\n", what, i, err)
	}
}

// lookup resolves a node from compressed tag name bytes and wff id bytes.
func (self *Engine) lookup(tagNameBytes []byte, wffIdBytes []byte) (*dom.Node, error) {
	tagName, err := self.symbols.TagName(tagNameBytes)
	if err != nil {
		return nil, err
	}
	id, err := WffIdFromBytes(wffIdBytes)
	if err != nil {
		return nil, err
	}
	return self.registry.Lookup(tagName, id)
}

// {name: compressed attribute, values: [wff id...]}
func (self *Engine) attributeUpdated(records []*NameValue) {
	for i, record := range records {
		name, value, err := self.symbols.AttrNameValue(record.Name)
		if err != nil {
			self.skip("attribute updated", i, err)
			continue
		}
		for _, wffIdBytes := range record.Values {
			id, err := WffIdFromBytes(wffIdBytes)
			if err != nil {
				self.skip("attribute updated", i, err)
				continue
			}
			node, err := self.registry.Lookup("", id)
			if err != nil {
				self.skip("attribute updated", i, err)
				continue
			}
			self.attrs.set(node, name, value)
		}
	}
}

// {name: [many to one], values: [tag name, wff id, attribute...]}
func (self *Engine) manyToOneAttributes(what string, records []*NameValue, apply func(node *dom.Node, attrBytes []byte) error) {
	for i, record := range records {
		if !self.taskValues.is(record.Name, TaskManyToOne) {
			continue
		}
		if len(record.Values) < 2 {
			self.skip(what, i, formatErrorf(0, "missing target"))
			continue
		}
		node, err := self.lookup(record.Values[0], record.Values[1])
		if err != nil {
			self.skip(what, i, err)
			continue
		}
		for _, attrBytes := range record.Values[2:] {
			if err := apply(node, attrBytes); err != nil {
				self.skip(what, i, err)
			}
		}
	}
}

func (self *Engine) addedAttributes(records []*NameValue) {
	self.manyToOneAttributes("added attributes", records, func(node *dom.Node, attrBytes []byte) error {
		name, value, err := self.symbols.AttrNameValue(attrBytes)
		if err != nil {
			return err
		}
		self.attrs.set(node, name, value)
		return nil
	})
}

func (self *Engine) removedAttributes(records []*NameValue) {
	self.manyToOneAttributes("removed attributes", records, func(node *dom.Node, attrBytes []byte) error {
		name, err := self.symbols.AttrName(attrBytes)
		if err != nil {
			return err
		}
		self.attrs.remove(node, name)
		return nil
	})
}

// {name: parent wff id, values: [parent tag name, subtree...]}
func (self *Engine) appendedChildren(records []*NameValue) {
	for i, record := range records {
		if len(record.Values) < 1 {
			self.skip("appended", i, formatErrorf(0, "missing tag name"))
			continue
		}
		parent, err := self.lookup(record.Values[0], record.Name)
		if err != nil {
			self.skip("appended", i, err)
			continue
		}
		for _, subtreeBytes := range record.Values[1:] {
			child, err := self.subtrees.build(subtreeBytes)
			if err != nil {
				self.skip("appended", i, err)
				continue
			}
			if err := parent.AppendChild(child); err != nil {
				self.skip("appended", i, err)
			}
		}
	}
}

// {name: wff id, values: [tag name]}
func (self *Engine) removedTags(records []*NameValue) {
	for i, record := range records {
		if len(record.Values) < 1 {
			self.skip("removed", i, formatErrorf(0, "missing tag name"))
			continue
		}
		node, err := self.lookup(record.Values[0], record.Name)
		if err != nil {
			self.skip("removed", i, err)
			continue
		}
		node.Detach()
		self.registry.UnregisterTree(node)
	}
}

func (self *Engine) removedAllChildren(records []*NameValue) {
	for i, record := range records {
		if len(record.Values) < 1 {
			self.skip("removed all children", i, formatErrorf(0, "missing tag name"))
			continue
		}
		parent, err := self.lookup(record.Values[0], record.Name)
		if err != nil {
			self.skip("removed all children", i, err)
			continue
		}
		for c := parent.FirstChild(); c != nil; c = parent.FirstChild() {
			parent.RemoveChild(c)
			self.registry.UnregisterTree(c)
		}
	}
}

// {name: parent wff id, values: [parent tag name, child wff id, child tag name (empty when new), subtree]}
func (self *Engine) movedChildren(records []*NameValue) {
	for i, record := range records {
		if len(record.Values) < 4 {
			self.skip("moved", i, formatErrorf(0, "moved record with %d values", len(record.Values)))
			continue
		}
		parent, err := self.lookup(record.Values[0], record.Name)
		if err != nil {
			self.skip("moved", i, err)
			continue
		}
		var child *dom.Node
		if 0 < len(record.Values[2]) {
			child, err = self.lookup(record.Values[2], record.Values[1])
			if err != nil && !errors.Is(err, ErrUnresolvedIdentity) {
				self.skip("moved", i, err)
				continue
			}
		}
		if child == nil {
			child, err = self.subtrees.build(record.Values[3])
			if err != nil {
				self.skip("moved", i, err)
				continue
			}
		}
		if err := parent.AppendChild(child); err != nil {
			self.skip("moved", i, err)
		}
	}
}

// record 1: {name: tag name, values: [wff id]}
func (self *Engine) target(records []*NameValue) (*dom.Node, error) {
	if len(records) < 1 || len(records[0].Values) < 1 {
		return nil, formatErrorf(0, "missing target record")
	}
	return self.lookup(records[0].Name, records[0].Values[0])
}

func (self *Engine) copyInnerTextToValue(records []*NameValue) error {
	node, err := self.target(records)
	if err != nil {
		self.skip("copy inner text", 0, err)
		return nil
	}
	node.SetProperty("value", node.TextContent())
	return nil
}

// {name: tag name, values: [wff id, key, bm object or array]}
func (self *Engine) setObjectOnTag(code TaskCode, records []*NameValue) error {
	if len(records) < 1 || len(records[0].Values) < 3 {
		return formatErrorf(0, "%s without key and value", code)
	}
	node, err := self.target(records)
	if err != nil {
		self.skip(code.String(), 0, err)
		return nil
	}
	key := string(records[0].Values[1])
	var value any
	if code == TaskSetBMObjOnTag {
		value, err = DecodeBMObject(records[0].Values[2])
	} else {
		value, err = DecodeBMArray(records[0].Values[2])
	}
	if err != nil {
		return err
	}
	node.SetObject(key, value)
	return nil
}

func (self *Engine) deleteObjectFromTag(records []*NameValue) error {
	if len(records) < 1 || len(records[0].Values) < 2 {
		return formatErrorf(0, "delete object without key")
	}
	node, err := self.target(records)
	if err != nil {
		self.skip("delete object", 0, err)
		return nil
	}
	node.DeleteObject(string(records[0].Values[1]))
	return nil
}

// task record values: [code, script, [broadcast]]
func (self *Engine) execJs(taskNameValue *NameValue) error {
	if len(taskNameValue.Values) < 2 {
		return formatErrorf(0, "exec without script")
	}
	script := string(taskNameValue.Values[1])
	broadcast := 2 < len(taskNameValue.Values) && 0 < len(taskNameValue.Values[2]) && taskNameValue.Values[2][0] == 1
	if broadcast {
		if self.collaborators.StorageSync == nil {
			return self.unhandled(TaskExecJs)
		}
		return self.collaborators.StorageSync.BroadcastScript(script)
	}
	runScript(script, func() error {
		return self.collaborators.ScriptEngine.Exec(script)
	})
	return nil
}

// {name: function body, values: [bm object?]}
func (self *Engine) invokePostFunction(records []*NameValue) error {
	if len(records) < 1 {
		return formatErrorf(0, "post function without body")
	}
	body := string(records[0].Name)
	var arg *structpb.Struct
	if 0 < len(records[0].Values) && 0 < len(records[0].Values[0]) {
		var err error
		arg, err = DecodeBMObject(records[0].Values[0])
		if err != nil {
			return err
		}
	}
	runScript(body, func() error {
		return self.collaborators.ScriptEngine.Call(body, arg)
	})
	return nil
}

// {name: callback id, values: [bm object?]}
func (self *Engine) invokeCallbackFunction(records []*NameValue) error {
	if self.collaborators.Calls == nil {
		return self.unhandled(TaskInvokeCallbackFunction)
	}
	if len(records) < 1 {
		return formatErrorf(0, "callback without id")
	}
	callbackId := string(records[0].Name)
	var result *structpb.Struct
	if 0 < len(records[0].Values) && 0 < len(records[0].Values[0]) {
		var err error
		result, err = DecodeBMObject(records[0].Values[0])
		if err != nil {
			return err
		}
	}
	if !self.collaborators.Calls.invokeCallback(callbackId, result) {
		glog.V(1).Infof("[p]no pending callback %s\n", callbackId)
	}
	return nil
}

func (self *Engine) String() string {
	return fmt.Sprintf("engine(%s)", self.symbols)
}
