package initial

import (
	"fmt"
	"log"
	"os"
	"time"

	"InsightLink/internal/config"
	aiEmbedding "InsightLink/internal/modules/ai/domain/embedding"
	conversationEntity "InsightLink/internal/modules/conversation/domain/entity"
	semanticEntity "InsightLink/internal/modules/semantic/domain/entity"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MysqlDSN 应用库连接串
func MysqlDSN(conf *config.Config) string {
	c := conf.MysqlConfig
	dbName := c.DatabaseName
	if dbName == "" {
		dbName = conf.AppName
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local", c.User, c.Password, c.Host, c.Port, dbName)
}

func NewGormDB(conf *config.Config) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(mysql.Open(MysqlDSN(conf)), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// AutoMigrate 自动迁移，如果没有建表，会自动创建对应的表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&conversationEntity.ConversationSession{},
		&conversationEntity.ConversationMessage{},

		&semanticEntity.BusinessMetric{},
		&semanticEntity.GlossaryTerm{},
		&semanticEntity.BusinessRule{},
		&semanticEntity.QueryExample{},

		&aiEmbedding.AIEmbeddingRecord{},
		&aiEmbedding.AIUserDomainGrant{},
	)
}
