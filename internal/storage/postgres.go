package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Channel 描述一个被监控的站点；没有任何指纹的站点也会保留一行
type Channel struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"size:128;uniqueIndex" json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SeenFingerprint 是已通知过的一条公告指纹
type SeenFingerprint struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Source      string    `gorm:"size:128;uniqueIndex:idx_seen_source_fp;index" json:"source"`
	Fingerprint string    `gorm:"size:64;uniqueIndex:idx_seen_source_fp" json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
}

const insertBatchSize = 500

type postgresStore struct {
	db *gorm.DB
}

func newPostgresStore(db *gorm.DB) *postgresStore {
	return &postgresStore{db: db}
}

func NewPostgresStore(dsn string) (Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Channel{}, &SeenFingerprint{}); err != nil {
		return nil, err
	}
	return newPostgresStore(db), nil
}

func (s *postgresStore) Load(ctx context.Context) (State, error) {
	db := s.db.WithContext(ctx)

	var channels []Channel
	if err := db.Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("postgres load channels: %w", err)
	}
	var rows []SeenFingerprint
	if err := db.Order("source, fingerprint").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("postgres load fingerprints: %w", err)
	}

	lists := make(map[string][]string, len(channels))
	for _, ch := range channels {
		lists[ch.Code] = nil
	}
	for _, r := range rows {
		lists[r.Source] = append(lists[r.Source], r.Fingerprint)
	}
	return fromLists(lists)
}

// Save 在一个事务中写入；状态只增不减，已存在的行直接跳过
func (s *postgresStore) Save(ctx context.Context, st State) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, src := range st.Sources() {
			ch := &Channel{Code: src}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "code"}},
				DoNothing: true,
			}).Create(ch).Error; err != nil {
				return fmt.Errorf("ensure channel %s: %w", src, err)
			}

			fps := st.Fingerprints(src)
			if len(fps) == 0 {
				continue
			}
			rows := make([]SeenFingerprint, 0, len(fps))
			for _, fp := range fps {
				rows = append(rows, SeenFingerprint{Source: src, Fingerprint: fp})
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "source"}, {Name: "fingerprint"}},
				DoNothing: true,
			}).CreateInBatches(rows, insertBatchSize).Error; err != nil {
				return fmt.Errorf("save fingerprints %s: %w", src, err)
			}
		}
		return nil
	})
}

func (s *postgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
