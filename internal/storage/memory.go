package storage

import (
	"slices"
	"sync"
	"time"

	"chatgogo/matchclient/internal/models"
)

// Memory is an in-process Storage for local runs and tests. Nothing
// survives a restart.
type Memory struct {
	mu         sync.Mutex
	now        func() time.Time
	rooms      map[string]models.ChatRoom
	complaints []models.Complaint
	bans       map[string]time.Time // zero time: no expiry
	queue      []string
}

// NewMemory returns an empty store. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:   now,
		rooms: make(map[string]models.ChatRoom),
		bans:  make(map[string]time.Time),
	}
}

func (m *Memory) SaveRoom(room *models.ChatRoom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.RoomID == "" {
		// Same as the gorm hook.
		_ = room.BeforeCreate(nil)
	}
	m.rooms[room.RoomID] = *room
	return nil
}

func (m *Memory) CloseRoom(roomID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok || !room.IsActive {
		return nil
	}
	ended := m.now()
	room.IsActive = false
	room.EndedAt = &ended
	room.EndReason = reason
	m.rooms[roomID] = room
	return nil
}

func (m *Memory) GetRoomByID(roomID string) (*models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &room, nil
}

func (m *Memory) GetActiveRoomIDs() ([]string, error) {
	rooms, _ := m.GetActiveRooms()
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.RoomID)
	}
	return ids, nil
}

func (m *Memory) GetActiveRooms() ([]models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rooms []models.ChatRoom
	for _, r := range m.rooms {
		if r.IsActive {
			rooms = append(rooms, r)
		}
	}
	slices.SortFunc(rooms, func(a, b models.ChatRoom) int { return a.StartedAt.Compare(b.StartedAt) })
	return rooms, nil
}

func (m *Memory) SaveComplaint(complaint *models.Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if complaint.Status == "" {
		complaint.Status = models.ComplaintNew
	}
	if complaint.CreatedAt.IsZero() {
		complaint.CreatedAt = m.now()
	}
	complaint.ID = uint(len(m.complaints) + 1)
	m.complaints = append(m.complaints, *complaint)
	return nil
}

func (m *Memory) GetComplaintByID(id uint) (*models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == 0 || int(id) > len(m.complaints) {
		return nil, ErrComplaintNotFound
	}
	c := m.complaints[id-1]
	return &c, nil
}

func (m *Memory) UpdateComplaintStatus(id uint, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == 0 || int(id) > len(m.complaints) {
		return ErrComplaintNotFound
	}
	m.complaints[id-1].Status = status
	return nil
}

func (m *Memory) CountComplaintsAgainst(userID string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.complaints {
		if c.TargetID == userID && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) IsUserBanned(userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.bans[userID]
	if !ok {
		return false, nil
	}
	if !until.IsZero() && !m.now().Before(until) {
		delete(m.bans, userID)
		return false, nil
	}
	return true, nil
}

func (m *Memory) BanUser(userID string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var until time.Time
	if d > 0 {
		until = m.now().Add(d)
	}
	m.bans[userID] = until
	return nil
}

func (m *Memory) UnbanUser(userID string) error {
	m.mu.Lock()
	delete(m.bans, userID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) AddUserToSearchQueue(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.queue, userID) {
		m.queue = append(m.queue, userID)
	}
	return nil
}

func (m *Memory) RemoveUserFromSearchQueue(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = slices.DeleteFunc(m.queue, func(id string) bool { return id == userID })
	return nil
}

func (m *Memory) GetSearchingUsers() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queue), nil
}

var (
	_ Storage = (*Memory)(nil)
	_ Storage = (*Service)(nil)
)
