package audit

import (
	"context"
	"sync"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// FakeSink records appended records for test assertions.
type FakeSink struct {
	mu      sync.Mutex
	records []logic.WasteItemRecord

	// AppendError, if set, will be returned by Append.
	AppendError error
}

// Append records rec unless AppendError is set.
func (f *FakeSink) Append(ctx context.Context, rec logic.WasteItemRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AppendError != nil {
		return f.AppendError
	}
	f.records = append(f.records, rec)
	return nil
}

// Records returns a copy of everything appended.
func (f *FakeSink) Records() []logic.WasteItemRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.WasteItemRecord(nil), f.records...)
}
