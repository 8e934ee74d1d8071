// Package memory holds map-backed stores for tests and the default dev setup.
package memory

import (
	"auditai/internal/repository"
)

var (
	_ repository.TransactionRepository = (*TransactionRepository)(nil)
	_ repository.FeedbackRepository    = (*FeedbackRepository)(nil)
)
