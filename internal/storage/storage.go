// Package storage persists relay state: rooms and complaints in PostgreSQL
// through gorm, the search queue and bans in Redis.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/models"
)

const (
	banKeyPrefix   = "ban:"
	searchQueueKey = "search_queue"
)

var (
	ErrRoomNotFound      = errors.New("chat room not found")
	ErrComplaintNotFound = errors.New("complaint not found")
)

// Storage is everything the relay and the admin tool need to persist.
type Storage interface {
	SaveRoom(room *models.ChatRoom) error
	// CloseRoom marks the room inactive. Closing an inactive room is a no-op.
	CloseRoom(roomID, reason string) error
	GetRoomByID(roomID string) (*models.ChatRoom, error)
	GetActiveRoomIDs() ([]string, error)
	GetActiveRooms() ([]models.ChatRoom, error)

	SaveComplaint(complaint *models.Complaint) error
	GetComplaintByID(id uint) (*models.Complaint, error)
	UpdateComplaintStatus(id uint, status string) error
	// CountComplaintsAgainst counts complaints filed against userID since the given time.
	CountComplaintsAgainst(userID string, since time.Time) (int64, error)

	IsUserBanned(userID string) (bool, error)
	// BanUser bans userID for d. A zero duration bans until UnbanUser.
	BanUser(userID string, d time.Duration) error
	UnbanUser(userID string) error

	AddUserToSearchQueue(userID string) error
	RemoveUserFromSearchQueue(userID string) error
	GetSearchingUsers() ([]string, error)
}

// Service is the gorm + Redis implementation of Storage.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context

	log zerolog.Logger
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
		log:   logging.Component("storage"),
	}
}

// Migrate creates or updates the relay tables.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.ChatRoom{}, &models.Complaint{})
}

func (s *Service) SaveRoom(room *models.ChatRoom) error {
	return s.DB.Save(room).Error
}

func (s *Service) CloseRoom(roomID, reason string) error {
	return s.DB.Model(&models.ChatRoom{}).
		Where("room_id = ? AND is_active = ?", roomID, true).
		Updates(map[string]interface{}{
			"is_active":  false,
			"ended_at":   gorm.Expr("NOW()"),
			"end_reason": reason,
		}).Error
}

func (s *Service) GetRoomByID(roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom

	err := s.DB.Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		s.log.Error().Err(err).Str("room", roomID).Msg("failed to get room")
		return nil, err
	}
	return &room, nil
}

// GetActiveRoomIDs повертає список усіх RoomID, які є активними в даний момент.
func (s *Service) GetActiveRoomIDs() ([]string, error) {
	var roomIDs []string
	if err := s.DB.Model(&models.ChatRoom{}).
		Where("is_active = ?", true).
		Pluck("room_id", &roomIDs).Error; err != nil {
		s.log.Error().Err(err).Msg("failed to retrieve active room ids")
		return nil, err
	}
	return roomIDs, nil
}

func (s *Service) GetActiveRooms() ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := s.DB.Where("is_active = ?", true).Order("started_at asc").Find(&rooms).Error
	return rooms, err
}

func (s *Service) SaveComplaint(complaint *models.Complaint) error {
	if complaint.Status == "" {
		complaint.Status = models.ComplaintNew
	}
	if err := s.DB.Create(complaint).Error; err != nil {
		s.log.Error().Err(err).Str("room", complaint.RoomID).Msg("failed to save complaint")
		return err
	}
	return nil
}

func (s *Service) GetComplaintByID(id uint) (*models.Complaint, error) {
	var c models.Complaint
	err := s.DB.First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrComplaintNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) UpdateComplaintStatus(id uint, status string) error {
	res := s.DB.Model(&models.Complaint{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrComplaintNotFound
	}
	return nil
}

func (s *Service) CountComplaintsAgainst(userID string, since time.Time) (int64, error) {
	var n int64
	err := s.DB.Model(&models.Complaint{}).
		Where("target_id = ? AND created_at >= ?", userID, since).
		Count(&n).Error
	return n, err
}

// IsUserBanned перевіряє статус бану в Redis
func (s *Service) IsUserBanned(userID string) (bool, error) {
	status, err := s.Redis.Get(s.Ctx, banKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status != "", nil
}

// BanUser stores the ban as a Redis key that expires with it.
func (s *Service) BanUser(userID string, d time.Duration) error {
	return s.Redis.Set(s.Ctx, banKeyPrefix+userID, "active", d).Err()
}

func (s *Service) UnbanUser(userID string) error {
	return s.Redis.Del(s.Ctx, banKeyPrefix+userID).Err()
}

// AddUserToSearchQueue додає користувача до черги пошуку в Redis
func (s *Service) AddUserToSearchQueue(userID string) error {
	return s.Redis.SAdd(s.Ctx, searchQueueKey, userID).Err()
}

// RemoveUserFromSearchQueue видаляє користувача з черги пошуку в Redis
func (s *Service) RemoveUserFromSearchQueue(userID string) error {
	return s.Redis.SRem(s.Ctx, searchQueueKey, userID).Err()
}

// GetSearchingUsers повертає всіх користувачів, які зараз шукають пару
func (s *Service) GetSearchingUsers() ([]string, error) {
	return s.Redis.SMembers(s.Ctx, searchQueueKey).Result()
}
