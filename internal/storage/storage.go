package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Storage is the persistence contract consumed by the relay hub and the
// HTTP handlers.
type Storage interface {
	AppendMessage(ctx context.Context, senderID, receiverID, text string) (*models.Message, error)
	GetHistory(ctx context.Context, identityA, identityB string) ([]models.Message, error)
	GetCorrespondents(ctx context.Context, identity string) ([]string, error)

	SavePresence(ctx context.Context, record models.PresenceRecord) error
	GetPresence(ctx context.Context, identity string) (*models.PresenceRecord, error)
	ResetPresence(ctx context.Context, at time.Time) (int64, error)
}

// Service stores messages in SQL through gorm and optionally mirrors
// presence into Redis.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client

	clock  *ConversationClock
	logger *slog.Logger
}

// NewStorageService Constructor. rdb may be nil.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:     db,
		Redis:  rdb,
		clock:  NewConversationClock(time.Now),
		logger: slog.Default().With("component", "storage"),
	}
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *Service) WithClock(clock *ConversationClock) *Service {
	s.clock = clock
	return s
}

// Migrate creates or updates the tables owned by the store.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.Message{}, &models.PresenceRecord{})
}

// Ping checks the SQL connection.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AppendMessage validates and durably stores a direct message. The
// returned message carries its generated ID and timestamp.
func (s *Service) AppendMessage(ctx context.Context, senderID, receiverID, text string) (*models.Message, error) {
	if !models.ValidIdentity(senderID) {
		return nil, apperrors.Validation("invalid sender identity %q", senderID)
	}
	if !models.ValidIdentity(receiverID) {
		return nil, apperrors.Validation("invalid receiver identity %q", receiverID)
	}
	if !models.ValidText(text) {
		return nil, apperrors.Validation("text must be non-empty and at most %d bytes", models.MaxTextLength)
	}

	key := models.ConversationKey(senderID, receiverID)
	createdAt, err := s.clock.Next(key, func() (time.Time, error) {
		return s.latestTimestamp(ctx, key)
	})
	if err != nil {
		return nil, classify(err)
	}

	msg := &models.Message{
		ConversationKey: key,
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Text:            text,
		CreatedAt:       createdAt,
	}
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		s.logger.Error("failed to append message", "conversation", key, "error", err)
		return nil, classify(err)
	}
	return msg, nil
}

// GetHistory returns every message exchanged between the two identities,
// oldest first. The order of the arguments does not matter.
func (s *Service) GetHistory(ctx context.Context, identityA, identityB string) ([]models.Message, error) {
	if !models.ValidIdentity(identityA) || !models.ValidIdentity(identityB) {
		return nil, apperrors.Validation("invalid identity pair %q, %q", identityA, identityB)
	}

	history := []models.Message{}
	err := s.DB.WithContext(ctx).
		Where("conversation_key = ?", models.ConversationKey(identityA, identityB)).
		Order("created_at asc, id asc").
		Find(&history).Error
	if err != nil {
		s.logger.Error("failed to load history", "a", identityA, "b", identityB, "error", err)
		return nil, classify(err)
	}
	return history, nil
}

// GetCorrespondents lists the distinct identities that have sent a
// message to identity.
func (s *Service) GetCorrespondents(ctx context.Context, identity string) ([]string, error) {
	if !models.ValidIdentity(identity) {
		return nil, apperrors.Validation("invalid identity %q", identity)
	}

	senders := []string{}
	err := s.DB.WithContext(ctx).
		Model(&models.Message{}).
		Where("receiver_id = ?", identity).
		Distinct().
		Order("sender_id").
		Pluck("sender_id", &senders).Error
	if err != nil {
		return nil, classify(err)
	}
	return senders, nil
}

// SavePresence upserts the presence row unless a newer transition is
// already stored, then mirrors it into Redis when configured. Rows are
// ordered by ChangedAt, ties broken by Version.
func (s *Service) SavePresence(ctx context.Context, record models.PresenceRecord) error {
	if !models.ValidIdentity(record.Identity) {
		return apperrors.Validation("invalid identity %q", record.Identity)
	}

	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"online", "last_seen", "version", "changed_at", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("presence_records.changed_at < excluded.changed_at OR " +
				"(presence_records.changed_at = excluded.changed_at AND presence_records.version < excluded.version)"),
		}},
	}).Create(&record).Error
	if err != nil {
		return classify(err)
	}

	if s.Redis == nil {
		return nil
	}
	if err := s.mirrorPresence(ctx, record); err != nil {
		return apperrors.Storage(err)
	}
	return nil
}

// ResetPresence marks every record stored as online offline, with
// lastSeen set to at. Records whose transition is later than at are kept.
// It returns the number of records reset.
func (s *Service) ResetPresence(ctx context.Context, at time.Time) (int64, error) {
	var stale []models.PresenceRecord
	err := s.DB.WithContext(ctx).Where("online = ?", true).Find(&stale).Error
	if err != nil {
		return 0, classify(err)
	}

	seen := at.UTC()
	var n int64
	for _, rec := range stale {
		if rec.ChangedAt > seen.UnixMicro() {
			continue
		}
		rec.Online = false
		rec.LastSeen = &seen
		rec.Version++
		rec.ChangedAt = seen.UnixMicro()
		if err := s.SavePresence(ctx, rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// GetPresence returns the stored presence of identity, or nil if the
// identity has never connected.
func (s *Service) GetPresence(ctx context.Context, identity string) (*models.PresenceRecord, error) {
	var record models.PresenceRecord
	err := s.DB.WithContext(ctx).Where("identity = ?", identity).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &record, nil
}

func (s *Service) latestTimestamp(ctx context.Context, key string) (time.Time, error) {
	var latest []models.Message
	err := s.DB.WithContext(ctx).
		Where("conversation_key = ?", key).
		Order("created_at desc, id desc").
		Limit(1).
		Find(&latest).Error
	if err != nil {
		return time.Time{}, err
	}
	if len(latest) == 0 {
		return time.Time{}, nil
	}
	return latest[0].CreatedAt, nil
}

// presenceScript writes the hash only when ARGV[1] (changed_at) and
// ARGV[2] (version) describe a newer transition than the stored one.
var presenceScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'changed_at', 'version')
local at, ver = tonumber(cur[1] or '0'), tonumber(cur[2] or '0')
local nat, nver = tonumber(ARGV[1]), tonumber(ARGV[2])
if nat < at or (nat == at and nver <= ver) then
	return 0
end
redis.call('HSET', KEYS[1], 'changed_at', ARGV[1], 'version', ARGV[2], 'online', ARGV[3], 'last_seen', ARGV[4])
return 1
`)

// PresenceKey is the Redis hash holding the mirrored presence of identity.
func PresenceKey(identity string) string {
	return "presence:" + identity
}

func (s *Service) mirrorPresence(ctx context.Context, record models.PresenceRecord) error {
	online := "0"
	if record.Online {
		online = "1"
	}
	lastSeen := ""
	if record.LastSeen != nil {
		lastSeen = strconv.FormatInt(record.LastSeen.UnixMilli(), 10)
	}

	return presenceScript.Run(ctx, s.Redis,
		[]string{PresenceKey(record.Identity)},
		record.ChangedAt, record.Version, online, lastSeen,
	).Err()
}

// classify maps driver errors onto the application error taxonomy.
// Integrity violations (SQLSTATE class 23) mean the row itself was
// rejected; anything else is a storage failure the client may retry.
func classify(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return apperrors.Validation("message rejected by store: %s", pgErr.ConstraintName).Wrap(err)
	}
	return apperrors.Storage(fmt.Errorf("storage: %w", err))
}
