package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	xerrors "TradePilot/internal/errors"

	"github.com/creasty/defaults"
	_ "github.com/go-sql-driver/mysql"
)

// Config 描述 MySQL 连接池参数，零值字段使用 default 标签中的取值。
type Config struct {
	DSN             string
	MaxOpenConns    int           `default:"20"`
	MaxIdleConns    int           `default:"10"`
	ConnMaxLifetime time.Duration `default:"30m"`
	ConnMaxIdleTime time.Duration
}

// Open 建立连接池并 Ping 确认数据库可达。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "MySQL 连接池参数无效")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}
