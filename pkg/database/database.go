package database

import (
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tutor_backend/internal/config"
	"tutor_backend/internal/model"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.ConceptNode{},
		&model.Theme{},
		&model.NodeTheme{},
		&model.ConceptEdge{},
		&model.Exercise{},
		&model.UserNodeState{},
		&model.ExerciseHistory{},
		&model.Session{},
		&model.ConversationTurn{},
		&model.Achievement{},
		&model.UserAchievement{},
		&model.DailyStat{},
	)
}
