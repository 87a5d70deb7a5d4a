package relay_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/protocol"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) SaveRoom(room *models.ChatRoom) error {
	args := m.Called(room)
	return args.Error(0)
}

func (m *MockStorage) CloseRoom(roomID, reason string) error {
	args := m.Called(roomID, reason)
	return args.Error(0)
}

func (m *MockStorage) GetRoomByID(roomID string) (*models.ChatRoom, error) {
	args := m.Called(roomID)
	room, _ := args.Get(0).(*models.ChatRoom)
	return room, args.Error(1)
}

func (m *MockStorage) GetActiveRoomIDs() ([]string, error) {
	args := m.Called()
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) GetActiveRooms() ([]models.ChatRoom, error) {
	args := m.Called()
	return args.Get(0).([]models.ChatRoom), args.Error(1)
}

func (m *MockStorage) SaveComplaint(complaint *models.Complaint) error {
	args := m.Called(complaint)
	return args.Error(0)
}

func (m *MockStorage) GetComplaintByID(id uint) (*models.Complaint, error) {
	args := m.Called(id)
	c, _ := args.Get(0).(*models.Complaint)
	return c, args.Error(1)
}

func (m *MockStorage) UpdateComplaintStatus(id uint, status string) error {
	args := m.Called(id, status)
	return args.Error(0)
}

func (m *MockStorage) CountComplaintsAgainst(userID string, since time.Time) (int64, error) {
	args := m.Called(userID, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) IsUserBanned(userID string) (bool, error) {
	args := m.Called(userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) BanUser(userID string, d time.Duration) error {
	args := m.Called(userID, d)
	return args.Error(0)
}

func (m *MockStorage) UnbanUser(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStorage) AddUserToSearchQueue(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStorage) RemoveUserFromSearchQueue(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStorage) GetSearchingUsers() ([]string, error) {
	args := m.Called()
	return args.Get(0).([]string), args.Error(1)
}

// permissive registers catch-all expectations. Specific expectations must
// be registered before it to take precedence.
func (m *MockStorage) permissive() {
	m.On("GetActiveRoomIDs").Return([]string{}, nil).Maybe()
	m.On("IsUserBanned", mock.Anything).Return(false, nil).Maybe()
	m.On("AddUserToSearchQueue", mock.Anything).Return(nil).Maybe()
	m.On("RemoveUserFromSearchQueue", mock.Anything).Return(nil).Maybe()
	m.On("SaveRoom", mock.Anything).Return(nil).Maybe()
	m.On("CloseRoom", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SaveComplaint", mock.Anything).Return(nil).Maybe()
	m.On("CountComplaintsAgainst", mock.Anything, mock.Anything).Return(int64(1), nil).Maybe()
}

var connSeq atomic.Int64

type mockClient struct {
	id     string
	sent   chan protocol.Envelope
	closed atomic.Bool
}

func newMockClient(name string) *mockClient {
	return &mockClient{
		id:   fmt.Sprintf("%s-%d", name, connSeq.Add(1)),
		sent: make(chan protocol.Envelope, 64),
	}
}

func (c *mockClient) ID() string { return c.id }

func (c *mockClient) Send(env protocol.Envelope) error {
	c.sent <- env
	return nil
}

func (c *mockClient) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *mockClient) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-c.sent:
		return env
	case <-time.After(time.Second):
		t.Fatalf("%s: nothing sent", c.id)
		return protocol.Envelope{}
	}
}

func (c *mockClient) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case env := <-c.sent:
		t.Fatalf("%s: unexpected %s", c.id, env.Event)
	case <-time.After(30 * time.Millisecond):
	}
}
