package validation

import (
	"context"
	"sync"

	"presence-validation/internal/models"
	"presence-validation/internal/repository"
)

// fakeStore 内存考勤存储
type fakeStore struct {
	mu        sync.Mutex
	records   map[string]*models.AttendanceRecord // sessionID + "|" + studentID
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*models.AttendanceRecord)}
}

func storeKey(sessionID, studentID string) string {
	return sessionID + "|" + studentID
}

func (f *fakeStore) Create(ctx context.Context, record *models.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copied := *record
	f.records[storeKey(record.SessionID, record.StudentID)] = &copied
	return nil
}

func (f *fakeStore) Update(ctx context.Context, record *models.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := storeKey(record.SessionID, record.StudentID)
	if _, ok := f.records[key]; !ok {
		return repository.ErrNotFound
	}
	copied := *record
	f.records[key] = &copied
	return nil
}

func (f *fakeStore) FindBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[storeKey(sessionID, studentID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeStore) get(sessionID, studentID string) *models.AttendanceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[storeKey(sessionID, studentID)]
	if !ok {
		return nil
	}
	copied := *record
	return &copied
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeStore) put(record *models.AttendanceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[storeKey(record.SessionID, record.StudentID)] = record
}

// fakeNotifier 收集发布的事件
type fakeNotifier struct {
	mu     sync.Mutex
	events []fakeEvent
}

type fakeEvent struct {
	Type string
	Data interface{}
}

func (f *fakeNotifier) Publish(eventType string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeEvent{Type: eventType, Data: data})
}

func (f *fakeNotifier) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.Type)
	}
	return types
}

func (f *fakeNotifier) has(eventType string) bool {
	for _, t := range f.eventTypes() {
		if t == eventType {
			return true
		}
	}
	return false
}

// fakeSender 收集发给设备的消息
type fakeSender struct {
	mu       sync.Mutex
	messages map[string][]interface{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{messages: make(map[string][]interface{})}
}

func (f *fakeSender) Send(deviceID string, message interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[deviceID] = append(f.messages[deviceID], message)
	return true
}

func (f *fakeSender) sent(deviceID string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.messages[deviceID]...)
}

// fakeModes 固定返回同一个会话模式
type fakeModes struct {
	mode models.SessionMode
	ok   bool
}

func (f *fakeModes) ModeFor(ctx context.Context, sessionID string) (models.SessionMode, bool) {
	return f.mode, f.ok
}

func (f *fakeModes) ActiveSessionForClassroom(classroomID string) (models.SessionMode, bool) {
	return f.mode, f.ok
}

// fakeDirectory 内存学生名录
type fakeDirectory struct {
	students map[string]*models.Student // 按卡号索引
}

func (f *fakeDirectory) LookupByRFID(ctx context.Context, cardID string) (*models.Student, error) {
	student, ok := f.students[cardID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return student, nil
}
