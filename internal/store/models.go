// Package store owns all persisted state: bots, their commands and
// knowledge bases, chat history, admin users and settings.
package store

import (
	"time"

	"gorm.io/datatypes"
)

// User is an admin operator account for the HTTP/JSON surface.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;size:255"`
	PasswordHash string `gorm:"size:255"`
	IsActive     bool   `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Database is a named knowledge base, injected into LLM system prompts.
type Database struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:255"`
	Type        string `gorm:"size:16"` // "text" | "json"
	Description string `gorm:"size:512"`
	Content     string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Size returns the content length in bytes, derived rather than stored.
func (d Database) Size() int {
	return len(d.Content)
}

// Bot is one Telegram identity managed by this system.
type Bot struct {
	ID          uint    `gorm:"primaryKey"`
	Name        string  `gorm:"size:255"`
	Tag         string  `gorm:"size:255"`
	Description string  `gorm:"size:1024"`
	Token       string  `gorm:"uniqueIndex;size:64"`
	TelegramUsername  string `gorm:"size:64"`
	TelegramFirstName string `gorm:"size:128"`
	TelegramBotID     int64

	APIURL       string `gorm:"size:512"`
	APIKey       string `gorm:"size:512"`
	AIModel      string `gorm:"size:128"`
	SystemPrompt string `gorm:"type:text"`

	DatabaseID *uint

	IsActive  bool `gorm:"index:idx_bots_active_running"`
	IsRunning bool `gorm:"index:idx_bots_active_running"`

	MemoryEnabled       bool `gorm:"default:false"`
	MemoryMessagesCount int  `gorm:"default:10"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClampedMemoryMessagesCount returns MemoryMessagesCount clamped to [0, 50],
// per the invariant in spec.md §8.
func (b Bot) ClampedMemoryMessagesCount() int {
	n := b.MemoryMessagesCount
	if n < 0 {
		return 0
	}
	if n > 50 {
		return 50
	}
	return n
}

// Command is a scripted action attached to one bot.
type Command struct {
	ID                     uint   `gorm:"primaryKey"`
	BotID                  uint   `gorm:"uniqueIndex:idx_bot_name;index:idx_bot_name_active"`
	Name                   string `gorm:"size:255;uniqueIndex:idx_bot_name;index:idx_bot_name_active"`
	Description            string `gorm:"size:1024"`
	JSONCode               datatypes.JSON
	IsActive               bool `gorm:"default:true;index:idx_bot_name_active"`
	IsMultiCommand         bool `gorm:"default:false"`
	ParentMultiCommandID   *uint
	AllowExternalCommands  bool `gorm:"default:false"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ChatHistoryEntry is one (user, ai) exchange for a (bot, chat) pair.
type ChatHistoryEntry struct {
	ID          uint  `gorm:"primaryKey"`
	BotID       uint  `gorm:"index:idx_history_bot_chat_ts"`
	ChatID      int64 `gorm:"index:idx_history_bot_chat_ts"`
	UserMessage string `gorm:"type:text"`
	AIResponse  string `gorm:"type:text"`
	Timestamp   time.Time `gorm:"index:idx_history_bot_chat_ts"`
}

// Setting is a generic key/value row backing support_ai_* configuration.
type Setting struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// AIRequestLog records one LLM Adapter call, resolving the "AI requests
// chart" open question in spec.md §9 with a real time series.
type AIRequestLog struct {
	ID         uint  `gorm:"primaryKey"`
	BotID      uint  `gorm:"index"`
	ChatID     int64 `gorm:"index"`
	Provider   string `gorm:"size:64"`
	Model      string `gorm:"size:128"`
	DurationMS int64
	Success    bool
	CreatedAt  time.Time `gorm:"index"`
}
