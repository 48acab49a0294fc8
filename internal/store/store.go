package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("запись не найдена")

// ErrDatabaseReferenced is returned when deleting a Database still
// referenced by at least one Bot.
var ErrDatabaseReferenced = errors.New("база знаний используется ботом и не может быть удалена")

// ErrDuplicateCommandName is returned when a Command name collides with
// an existing command for the same bot.
var ErrDuplicateCommandName = errors.New("команда с таким именем уже существует у этого бота")

const maxHistoryPerChat = 100

// Store wraps a single embedded SQLite database file. All writes go
// through writeMu, which serializes writers locally the way Postgres or
// MySQL would serialize them on the server side for the teacher's
// original stack.
type Store struct {
	db      *gorm.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the SQLite file at path, enables
// foreign keys, and runs AutoMigrate across every model.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=1"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть базу данных: %w", err)
	}

	if err := db.AutoMigrate(
		&User{},
		&Database{},
		&Bot{},
		&Command{},
		&ChatHistoryEntry{},
		&Setting{},
		&AIRequestLog{},
	); err != nil {
		return nil, fmt.Errorf("ошибка миграции: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Seed inserts the default admin user, two example databases, and four
// support_ai_* settings rows, all idempotently (skipped if already
// present).
func (s *Store) Seed(adminEmail, adminPassword string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var count int64
	if err := s.db.Model(&User{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if err := s.db.Create(&User{Email: adminEmail, PasswordHash: string(hash), IsActive: true}).Error; err != nil {
			return err
		}
	}

	if err := s.db.Model(&Database{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		examples := []Database{
			{Name: "Пример: текстовая база", Type: "text", Description: "Пример текстовой базы знаний", Content: "Мы работаем с 9:00 до 18:00 по будням."},
			{Name: "Пример: JSON база", Type: "json", Description: "Пример структурированной базы знаний", Content: `{"faq":[{"q":"Как оформить возврат?","a":"Напишите в поддержку в течение 14 дней."}]}`},
		}
		if err := s.db.Create(&examples).Error; err != nil {
			return err
		}
	}

	defaults := map[string]string{
		"support_ai_api_url":       "",
		"support_ai_api_key":       "",
		"support_ai_model":         "gpt-4o-mini",
		"support_ai_system_prompt": "Ты — вежливый ассистент поддержки. Отвечай кратко и по делу.",
	}
	for k, v := range defaults {
		var existing Setting
		err := s.db.Where("key = ?", k).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := s.db.Create(&Setting{Key: k, Value: v, UpdatedAt: time.Now()}).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}

	return nil
}

// --- Users ---

func (s *Store) UserByEmail(email string) (*User, error) {
	var u User
	if err := s.db.Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// --- Bots ---

func (s *Store) CreateBot(b *Bot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Create(b).Error
}

func (s *Store) Bot(id uint) (*Bot, error) {
	var b Bot
	if err := s.db.First(&b, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) Bots() ([]Bot, error) {
	var bots []Bot
	if err := s.db.Order("id asc").Find(&bots).Error; err != nil {
		return nil, err
	}
	return bots, nil
}

func (s *Store) RunningBots() ([]Bot, error) {
	var bots []Bot
	if err := s.db.Where("is_running = ?", true).Find(&bots).Error; err != nil {
		return nil, err
	}
	return bots, nil
}

func (s *Store) UpdateBot(b *Bot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Save(b).Error
}

// SetRunning updates only the is_running flag, used heavily by the
// supervisor and reconciler.
func (s *Store) SetRunning(id uint, running bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Model(&Bot{}).Where("id = ?", id).Update("is_running", running).Error
}

// SetTelegramIdentity persists getMe results.
func (s *Store) SetTelegramIdentity(id uint, username, firstName string, telegramBotID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Model(&Bot{}).Where("id = ?", id).Updates(map[string]interface{}{
		"telegram_username":   username,
		"telegram_first_name": firstName,
		"telegram_bot_id":     telegramBotID,
	}).Error
}

// DeleteBot removes a bot and cascades to its commands and chat history
// inside one transaction, since SQLite FK cascade is best-effort here.
func (s *Store) DeleteBot(id uint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("bot_id = ?", id).Delete(&Command{}).Error; err != nil {
			return err
		}
		if err := tx.Where("bot_id = ?", id).Delete(&ChatHistoryEntry{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Bot{}, id).Error
	})
}

// --- Databases (knowledge bases) ---

func (s *Store) CreateDatabase(d *Database) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Create(d).Error
}

func (s *Store) Database(id uint) (*Database, error) {
	var d Database
	if err := s.db.First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) Databases() ([]Database, error) {
	var out []Database
	if err := s.db.Order("id asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateDatabase(d *Database) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Save(d).Error
}

// DeleteDatabase refuses to delete a Database referenced by any Bot.
func (s *Store) DeleteDatabase(id uint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var count int64
	if err := s.db.Model(&Bot{}).Where("database_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDatabaseReferenced
	}
	return s.db.Delete(&Database{}, id).Error
}

// --- Commands ---

func (s *Store) CreateCommand(c *Command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var count int64
	if err := s.db.Model(&Command{}).Where("bot_id = ? AND name = ?", c.BotID, c.Name).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateCommandName
	}
	return s.db.Create(c).Error
}

func (s *Store) Command(id uint) (*Command, error) {
	var c Command
	if err := s.db.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CommandsForBot(botID uint) ([]Command, error) {
	var out []Command
	if err := s.db.Where("bot_id = ?", botID).Order("id asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveCommandsForBot returns only is_active=true commands, the input
// to the Command Engine's visibility computation.
func (s *Store) ActiveCommandsForBot(botID uint) ([]Command, error) {
	var out []Command
	if err := s.db.Where("bot_id = ? AND is_active = ?", botID, true).Order("id asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateCommand(c *Command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var count int64
	if err := s.db.Model(&Command{}).
		Where("bot_id = ? AND name = ? AND id <> ?", c.BotID, c.Name, c.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateCommandName
	}
	return s.db.Save(c).Error
}

func (s *Store) DeleteCommand(id uint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Delete(&Command{}, id).Error
}

// --- Chat history ---

// AppendHistory writes one exchange and prunes older rows for the same
// (bot, chat) pair past the newest 100, per spec.md §3/§8.
func (s *Store) AppendHistory(botID uint, chatID int64, userMessage, aiResponse string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		entry := ChatHistoryEntry{
			BotID:       botID,
			ChatID:      chatID,
			UserMessage: userMessage,
			AIResponse:  aiResponse,
			Timestamp:   time.Now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		var ids []uint
		if err := tx.Model(&ChatHistoryEntry{}).
			Where("bot_id = ? AND chat_id = ?", botID, chatID).
			Order("timestamp desc").
			Offset(maxHistoryPerChat).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := tx.Delete(&ChatHistoryEntry{}, ids).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentHistory returns the newest n entries for (botID, chatID), newest
// first.
func (s *Store) RecentHistory(botID uint, chatID int64, n int) ([]ChatHistoryEntry, error) {
	var out []ChatHistoryEntry
	if err := s.db.Where("bot_id = ? AND chat_id = ?", botID, chatID).
		Order("timestamp desc").
		Limit(n).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) HistoryForBot(botID uint) ([]ChatHistoryEntry, error) {
	var out []ChatHistoryEntry
	if err := s.db.Where("bot_id = ?", botID).Order("timestamp desc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteHistoryEntry(id uint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Delete(&ChatHistoryEntry{}, id).Error
}

func (s *Store) DeleteHistoryForBot(botID uint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Where("bot_id = ?", botID).Delete(&ChatHistoryEntry{}).Error
}

// --- Settings ---

func (s *Store) Settings() ([]Setting, error) {
	var out []Setting
	if err := s.db.Order("key asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SetSetting(key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Save(&Setting{Key: key, Value: value, UpdatedAt: time.Now()}).Error
}

func (s *Store) Setting(key string) (string, error) {
	var st Setting
	if err := s.db.Where("key = ?", key).First(&st).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return st.Value, nil
}

// --- AI request log ---

func (s *Store) LogAIRequest(l *AIRequestLog) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	l.CreatedAt = time.Now()
	return s.db.Create(l).Error
}

// AIRequestsSince returns request log rows created at or after since, for
// the dashboard's "ai-requests" chart.
func (s *Store) AIRequestsSince(since time.Time) ([]AIRequestLog, error) {
	var out []AIRequestLog
	if err := s.db.Where("created_at >= ?", since).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ChatHistorySince returns history rows for the "messages" chart.
func (s *Store) ChatHistorySince(since time.Time) ([]ChatHistoryEntry, error) {
	var out []ChatHistoryEntry
	if err := s.db.Where("timestamp >= ?", since).Order("timestamp asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
