package docsync

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// the byte value of each task is assigned by the authority at bootstrap.
// inside the runtime tasks are a closed enumeration and dispatch is a switch.

type TaskCode int

const (
	TaskUnknown TaskCode = iota

	// categories and record markers
	TaskSingle
	TaskOfTasks
	TaskManyToOne
	TaskOneToMany
	TaskManyToMany
	TaskOneToOne

	TaskInvokeAsyncMethod
	TaskAttributeUpdated
	TaskAppendedChildTag
	TaskRemovedTags
	TaskAppendedChildrenTags
	TaskPrependedChildrenTags
	TaskRemovedAllChildrenTags
	TaskMovedChildrenTags
	TaskInsertedBeforeTag
	TaskInsertedAfterTag
	TaskReplacedWithTags
	TaskRemovedAttributes
	TaskAddedAttributes
	TaskAddedInnerHtml
	TaskInvokePostFunction
	TaskExecJs
	TaskReloadBrowser
	TaskReloadBrowserFromCache
	TaskInvokeCallbackFunction
	TaskInvokeCustomServerMethod
	TaskCopyInnerTextToValue
	TaskRemoveBrowserPage
	TaskSetBMObjOnTag
	TaskSetBMArrOnTag
	TaskDelBMObjOrArrFromTag
	TaskClientPathnameChanged
	TaskAfterSetUri
	TaskSetUri
	TaskSetLSItem
	TaskGetLSItem
	TaskRemoveLSItem
	TaskRemoveAndGetLSItem
	TaskClearLS
	TaskSetLSToken
	TaskRemoveLSToken
	TaskInitialWsOpen
	TaskTagCreated
	TaskTagDeleted
	TaskFreshSessionPing
)

// bootstrap names, in the default value order
var taskNames = map[TaskCode]string{
	TaskInvokeAsyncMethod:        "INVOKE_ASYNC_METHOD",
	TaskAttributeUpdated:         "ATTRIBUTE_UPDATED",
	TaskSingle:                   "TASK",
	TaskAppendedChildTag:         "APPENDED_CHILD_TAG",
	TaskRemovedTags:              "REMOVED_TAGS",
	TaskAppendedChildrenTags:     "APPENDED_CHILDREN_TAGS",
	TaskRemovedAllChildrenTags:   "REMOVED_ALL_CHILDREN_TAGS",
	TaskMovedChildrenTags:        "MOVED_CHILDREN_TAGS",
	TaskInsertedBeforeTag:        "INSERTED_BEFORE_TAG",
	TaskInsertedAfterTag:         "INSERTED_AFTER_TAG",
	TaskReplacedWithTags:         "REPLACED_WITH_TAGS",
	TaskRemovedAttributes:        "REMOVED_ATTRIBUTES",
	TaskAddedAttributes:          "ADDED_ATTRIBUTES",
	TaskManyToOne:                "MANY_TO_ONE",
	TaskOneToMany:                "ONE_TO_MANY",
	TaskManyToMany:               "MANY_TO_MANY",
	TaskOneToOne:                 "ONE_TO_ONE",
	TaskAddedInnerHtml:           "ADDED_INNER_HTML",
	TaskInvokePostFunction:       "INVOKE_POST_FUNCTION",
	TaskExecJs:                   "EXEC_JS",
	TaskReloadBrowser:            "RELOAD_BROWSER",
	TaskReloadBrowserFromCache:   "RELOAD_BROWSER_FROM_CACHE",
	TaskInvokeCallbackFunction:   "INVOKE_CALLBACK_FUNCTION",
	TaskInvokeCustomServerMethod: "INVOKE_CUSTOM_SERVER_METHOD",
	TaskOfTasks:                  "TASK_OF_TASKS",
	TaskCopyInnerTextToValue:     "COPY_INNER_TEXT_TO_VALUE",
	TaskRemoveBrowserPage:        "REMOVE_BROWSER_PAGE",
	TaskSetBMObjOnTag:            "SET_BM_OBJ_ON_TAG",
	TaskSetBMArrOnTag:            "SET_BM_ARR_ON_TAG",
	TaskDelBMObjOrArrFromTag:     "DEL_BM_OBJ_OR_ARR_FROM_TAG",
	TaskClientPathnameChanged:    "CLIENT_PATHNAME_CHANGED",
	TaskAfterSetUri:              "AFTER_SET_URI",
	TaskSetUri:                   "SET_URI",
	TaskSetLSItem:                "SET_LS_ITEM",
	TaskGetLSItem:                "GET_LS_ITEM",
	TaskRemoveLSItem:             "REMOVE_LS_ITEM",
	TaskRemoveAndGetLSItem:       "REMOVE_AND_GET_LS_ITEM",
	TaskClearLS:                  "CLEAR_LS",
	TaskSetLSToken:               "SET_LS_TOKEN",
	TaskRemoveLSToken:            "REMOVE_LS_TOKEN",
	TaskInitialWsOpen:            "INITIAL_WS_OPEN",
	TaskPrependedChildrenTags:    "PREPENDED_CHILDREN_TAGS",
	TaskTagCreated:               "TAG_CREATED",
	TaskTagDeleted:               "TAG_DELETED",
	TaskFreshSessionPing:         "FRESH_SESSION_PING",
}

var defaultTaskOrder = []TaskCode{
	TaskInvokeAsyncMethod,
	TaskAttributeUpdated,
	TaskSingle,
	TaskAppendedChildTag,
	TaskRemovedTags,
	TaskAppendedChildrenTags,
	TaskRemovedAllChildrenTags,
	TaskMovedChildrenTags,
	TaskInsertedBeforeTag,
	TaskInsertedAfterTag,
	TaskReplacedWithTags,
	TaskRemovedAttributes,
	TaskAddedAttributes,
	TaskManyToOne,
	TaskOneToMany,
	TaskManyToMany,
	TaskOneToOne,
	TaskAddedInnerHtml,
	TaskInvokePostFunction,
	TaskExecJs,
	TaskReloadBrowser,
	TaskReloadBrowserFromCache,
	TaskInvokeCallbackFunction,
	TaskInvokeCustomServerMethod,
	TaskOfTasks,
	TaskCopyInnerTextToValue,
	TaskRemoveBrowserPage,
	TaskSetBMObjOnTag,
	TaskSetBMArrOnTag,
	TaskDelBMObjOrArrFromTag,
	TaskClientPathnameChanged,
	TaskAfterSetUri,
	TaskSetUri,
	TaskSetLSItem,
	TaskGetLSItem,
	TaskRemoveLSItem,
	TaskRemoveAndGetLSItem,
	TaskClearLS,
	TaskSetLSToken,
	TaskRemoveLSToken,
	TaskInitialWsOpen,
	TaskPrependedChildrenTags,
	TaskTagCreated,
	TaskTagDeleted,
	TaskFreshSessionPing,
}

func (self TaskCode) String() string {
	if name, ok := taskNames[self]; ok {
		return name
	}
	return fmt.Sprintf("TaskCode(%d)", int(self))
}

// TaskValues maps between task codes and their wire byte values.
type TaskValues struct {
	values map[TaskCode]byte
	codes  map[byte]TaskCode
}

// DefaultTaskValues numbers the tasks in their declaration order starting at 0.
func DefaultTaskValues() *TaskValues {
	values := map[string]int{}
	for i, code := range defaultTaskOrder {
		values[taskNames[code]] = i
	}
	taskValues, err := NewTaskValues(values)
	if err != nil {
		panic(err)
	}
	return taskValues
}

// NewTaskValues builds the table from bootstrap names.
// Unknown names are ignored. Every task must have a value, and two tasks may not share one.
func NewTaskValues(values map[string]int) (*TaskValues, error) {
	codesByName := map[string]TaskCode{}
	for code, name := range taskNames {
		codesByName[name] = code
	}

	taskValues := &TaskValues{
		values: map[TaskCode]byte{},
		codes:  map[byte]TaskCode{},
	}
	names := maps.Keys(values)
	slices.Sort(names)
	for _, name := range names {
		code, ok := codesByName[name]
		if !ok {
			continue
		}
		value := values[name]
		if value < 0 || 0xFF < value {
			return nil, fmt.Errorf("Task %s value %d out of range.", name, value)
		}
		if other, ok := taskValues.codes[byte(value)]; ok {
			return nil, fmt.Errorf("Task %s value %d is already used by %s.", name, value, other)
		}
		taskValues.values[code] = byte(value)
		taskValues.codes[byte(value)] = code
	}
	for _, code := range defaultTaskOrder {
		if _, ok := taskValues.values[code]; !ok {
			return nil, fmt.Errorf("Task %s has no value.", code)
		}
	}
	return taskValues, nil
}

func (self *TaskValues) Value(code TaskCode) (byte, bool) {
	value, ok := self.values[code]
	return value, ok
}

// Code returns `TaskUnknown` for an unassigned value.
func (self *TaskValues) Code(value byte) TaskCode {
	if code, ok := self.codes[value]; ok {
		return code
	}
	return TaskUnknown
}

func (self *TaskValues) mustValue(code TaskCode) byte {
	value, ok := self.values[code]
	if !ok {
		panic(fmt.Errorf("Task %s has no value.", code))
	}
	return value
}

// TaskNameValue is the leading record of a task message: {name: [category], values: [[code]]}.
func (self *TaskValues) TaskNameValue(code TaskCode) *NameValue {
	return NewNameValue(
		[]byte{self.mustValue(TaskSingle)},
		[]byte{self.mustValue(code)},
	)
}

// TaskMessage builds a single task message from the task code and its records.
func (self *TaskValues) TaskMessage(code TaskCode, nameValues ...*NameValue) []byte {
	return EncodeMessage(append([]*NameValue{self.TaskNameValue(code)}, nameValues...))
}

// TaskOfTasksMessage batches complete task messages into one.
func (self *TaskValues) TaskOfTasksMessage(messages ...[]byte) []byte {
	return EncodeMessage([]*NameValue{
		NewNameValue([]byte{self.mustValue(TaskOfTasks)}, messages...),
	})
}

func (self *TaskValues) is(b []byte, code TaskCode) bool {
	if len(b) != 1 {
		return false
	}
	value, ok := self.values[code]
	return ok && b[0] == value
}
