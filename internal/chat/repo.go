package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/suPer8Hu/medchat/internal/agent"
	"gorm.io/gorm"
)

// Persister saves and restores the whole session cache.
type Persister interface {
	Save(ctx context.Context, sessions []Session) error
	Load(ctx context.Context) ([]Session, error)
}

type sessionRow struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)"`
	Position  int       `gorm:"index;not null"`
	Kind      string    `gorm:"type:varchar(16);index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
}

func (sessionRow) TableName() string { return "chat_sessions" }

type messageRow struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	SessionID string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_session_seq,priority:1"`
	Seq       int       `gorm:"not null;index:idx_chat_msg_session_seq,priority:2"`
	Role      string    `gorm:"type:varchar(16);not null"`
	Content   string    `gorm:"type:text;not null"`
	Metadata  *string   `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
}

func (messageRow) TableName() string { return "chat_messages" }

// Repo persists the session cache in SQL through gorm.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&sessionRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("migrate chat tables: %w", err)
	}
	return &Repo{db: db}, nil
}

// Save replaces the stored snapshot in one transaction.
func (r *Repo) Save(ctx context.Context, sessions []Session) error {
	sRows := make([]sessionRow, 0, len(sessions))
	var mRows []messageRow
	for i, s := range sessions {
		sRows = append(sRows, sessionRow{
			ID:        s.ID,
			Position:  i,
			Kind:      string(s.Type),
			CreatedAt: s.CreatedAt,
		})
		for seq, m := range s.Messages {
			row := messageRow{
				ID:        m.ID,
				SessionID: s.ID,
				Seq:       seq,
				Role:      string(m.Role),
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			}
			if m.Metadata != nil {
				b, err := json.Marshal(m.Metadata)
				if err != nil {
					return fmt.Errorf("encode metadata for message %s: %w", m.ID, err)
				}
				meta := string(b)
				row.Metadata = &meta
			}
			mRows = append(mRows, row)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&messageRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&sessionRow{}).Error; err != nil {
			return err
		}
		if len(sRows) > 0 {
			if err := tx.CreateInBatches(sRows, 200).Error; err != nil {
				return err
			}
		}
		if len(mRows) > 0 {
			if err := tx.CreateInBatches(mRows, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repo) Load(ctx context.Context) ([]Session, error) {
	var sRows []sessionRow
	if err := r.db.WithContext(ctx).Order("position ASC").Find(&sRows).Error; err != nil {
		return nil, err
	}
	var mRows []messageRow
	if err := r.db.WithContext(ctx).Order("session_id ASC, seq ASC").Find(&mRows).Error; err != nil {
		return nil, err
	}

	bySession := make(map[string][]Message, len(sRows))
	for _, row := range mRows {
		m := Message{
			ID:        row.ID,
			Role:      Role(row.Role),
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		}
		if row.Metadata != nil && *row.Metadata != "" {
			var meta Metadata
			if err := json.Unmarshal([]byte(*row.Metadata), &meta); err != nil {
				return nil, fmt.Errorf("decode metadata for message %s: %w", row.ID, err)
			}
			m.Metadata = &meta
		}
		bySession[row.SessionID] = append(bySession[row.SessionID], m)
	}

	out := make([]Session, 0, len(sRows))
	for _, row := range sRows {
		msgs := bySession[row.ID]
		if msgs == nil {
			msgs = []Message{}
		}
		out = append(out, Session{
			ID:        row.ID,
			Type:      agent.Kind(row.Kind),
			Messages:  msgs,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}
