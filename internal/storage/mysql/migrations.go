package mysql

import (
	"bufio"
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"TradePilot/deploy/migrations"
	xerrors "TradePilot/internal/errors"
)

var embeddedMigrations fs.FS = migrations.Files

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        checksum CHAR(64) NOT NULL,
        applied_at BIGINT NOT NULL
)`

// migrationFile 是一个 NNNN_name.sql 文件拆分后的语句序列。
type migrationFile struct {
	version    string
	name       string
	checksum   string
	statements []string
}

// Migrate 应用内嵌的 SQL 迁移。
func Migrate(ctx context.Context, db *sql.DB) error {
	return MigrateFS(ctx, db, embeddedMigrations)
}

// MigrateFS 按版本顺序应用 source 中尚未执行的迁移，每个迁移一个事务。
// 已执行的迁移若内容被修改，返回错误而不是静默跳过。
func MigrateFS(ctx context.Context, db *sql.DB, source fs.FS) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 schema_migrations 表失败")
	}
	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return err
	}
	files, err := loadMigrationFiles(source)
	if err != nil {
		return err
	}
	for _, m := range files {
		sum, done := applied[m.version]
		if done {
			if sum != m.checksum {
				return xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("迁移 %s 在执行后被修改", m.name))
			}
			continue
		}
		if err := m.apply(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

func appliedChecksums(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 schema_migrations 失败")
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 schema_migrations 失败")
		}
		applied[version] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 schema_migrations 失败")
	}
	return applied, nil
}

func (m migrationFile) apply(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启迁移事务失败")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range m.statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("执行迁移 %s 第 %d 条语句失败", m.name, i+1))
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, checksum, applied_at) VALUES (?, ?, ?)`,
		m.version, m.checksum, time.Now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录迁移版本失败")
	}
	if err = tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交迁移事务失败")
	}
	return nil
}

func loadMigrationFiles(source fs.FS) ([]migrationFile, error) {
	names, err := fs.Glob(source, "*.sql")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移目录失败")
	}
	files := make([]migrationFile, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(source, name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取迁移文件 %s 失败", name))
		}
		statements := splitSQLStatements(string(raw))
		if len(statements) == 0 {
			continue
		}
		sum := sha256.Sum256(raw)
		files = append(files, migrationFile{
			version:    parseMigrationVersion(name),
			name:       name,
			checksum:   hex.EncodeToString(sum[:]),
			statements: statements,
		})
	}
	slices.SortFunc(files, func(a, b migrationFile) int {
		return cmp.Or(cmp.Compare(a.version, b.version), cmp.Compare(a.name, b.name))
	})
	return files, nil
}

// splitSQLStatements 去掉整行 "--" 注释后按分号切分。
func splitSQLStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for {
			before, after, found := strings.Cut(line, ";")
			current.WriteString(before)
			if !found {
				break
			}
			flush()
			line = after
		}
		current.WriteByte('\n')
	}
	flush()
	return statements
}

// parseMigrationVersion 取文件名中第一个下划线前的部分作为版本号。
func parseMigrationVersion(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	version, _, _ := strings.Cut(base, "_")
	return version
}
