package service

import (
	"os"
	"testing"

	"mentalist-go/internal/model"
	"mentalist-go/pkg/database"
	"mentalist-go/pkg/log"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// newTestDB 返回一个迁移完成的内存 SQLite 数据库。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

// seedPersona 创建一条开启学习的人格记录。
func seedPersona(t *testing.T, db *gorm.DB, name string) *model.Persona {
	t.Helper()
	persona := &model.Persona{
		Name:            name,
		BasePrompt:      "You are " + name + ".",
		LearningEnabled: true,
	}
	require.NoError(t, db.Create(persona).Error)
	return persona
}
