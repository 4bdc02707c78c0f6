package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// 一意制約違反。同じイベントの同時配送など「良性の重複」を
	// 呼び出し側が握りつぶせるように名前を付けて区別する。
	ErrUniqueViolation = errors.New("unique violation")
)
