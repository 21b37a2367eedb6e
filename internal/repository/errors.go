package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate は一意制約違反（SQLSTATE 23505）を表す。
	ErrDuplicate = errors.New("duplicate record")
	// ErrReferenceMissing は外部キー制約違反（SQLSTATE 23503）を表す。
	ErrReferenceMissing = errors.New("referenced record does not exist")
	// ErrNotFound は更新・削除対象が存在しないことを表す。
	ErrNotFound = errors.New("record not found")
)

const (
	pqUniqueViolation     = pq.ErrorCode("23505")
	pqForeignKeyViolation = pq.ErrorCode("23503")
)

// wrapPQError はPostgreSQLの制約違反をリポジトリのセンチネルエラーに変換する。
// 元のエラーもチェーンに残す。
func wrapPQError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, ErrDuplicate, err)
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: %w: %w", op, ErrReferenceMissing, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// nullIfEmpty は空文字列をSQLのNULLとして渡すための値に変換する。
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
