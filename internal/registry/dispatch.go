package registry

import "sync"

// RecordHandler post-processes one record's fields before they are served.
// Handlers must not mutate their input.
type RecordHandler func(fields map[string]any) map[string]any

// HandlerTable maps table display names to optional post-processing hooks.
// Tables without a registered handler pass records through unchanged.
type HandlerTable struct {
	mu       sync.RWMutex
	handlers map[string]RecordHandler
}

// NewHandlerTable creates an empty handler table.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{handlers: make(map[string]RecordHandler)}
}

// Register installs a handler for a table name, replacing any previous one.
func (t *HandlerTable) Register(table string, h RecordHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[table] = h
}

// Unregister removes the handler for a table name, if any.
func (t *HandlerTable) Unregister(table string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, table)
}

// Handle runs the table's handler over the fields, or returns them unchanged
// when no handler is registered.
func (t *HandlerTable) Handle(table string, fields map[string]any) map[string]any {
	t.mu.RLock()
	h := t.handlers[table]
	t.mu.RUnlock()

	if h == nil {
		return fields
	}
	return h(fields)
}
