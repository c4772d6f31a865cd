package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/storyvoice_go_server/internal/model"
)

// CreditRepository 账本存储：批次、流水与分配的持久化。
// 所有写入都发生在 CreditService 开启的事务内。
type CreditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// DB 返回底层连接，供服务层开启事务
func (r *CreditRepository) DB() *gorm.DB {
	return r.db
}

func (r *CreditRepository) CreateLot(tx *gorm.DB, lot *model.CreditLot) error {
	return tx.Create(lot).Error
}

func (r *CreditRepository) GetLot(tx *gorm.DB, lotID int64) (*model.CreditLot, error) {
	var lot model.CreditLot
	err := lockIfSupported(tx).Where("id = ?", lotID).First(&lot).Error
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// ActiveLots 查询未过期且仍有余额的批次并加行锁
func (r *CreditRepository) ActiveLots(tx *gorm.DB, userID int64, now time.Time) ([]*model.CreditLot, error) {
	var lots []*model.CreditLot
	err := lockIfSupported(tx).
		Where("user_id = ? AND amount_remaining > 0 AND (expires_at IS NULL OR expires_at > ?)", userID, now).
		Find(&lots).Error
	return lots, err
}

// LotsByUser 查询用户全部批次（含已耗尽与过期，供审计视图）
func (r *CreditRepository) LotsByUser(db *gorm.DB, userID int64) ([]*model.CreditLot, error) {
	var lots []*model.CreditLot
	err := db.Where("user_id = ?", userID).Order("created_at ASC, id ASC").Find(&lots).Error
	return lots, err
}

// ExpiredLots 查询 asOf 时刻已过期但仍有余额的批次
func (r *CreditRepository) ExpiredLots(tx *gorm.DB, userID *int64, asOf time.Time) ([]*model.CreditLot, error) {
	q := lockIfSupported(tx).Where("amount_remaining > 0 AND expires_at IS NOT NULL AND expires_at <= ?", asOf)
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	var lots []*model.CreditLot
	err := q.Order("user_id ASC, id ASC").Find(&lots).Error
	return lots, err
}

func (r *CreditRepository) UpdateLotRemaining(tx *gorm.DB, lotID int64, remaining int) error {
	return tx.Model(&model.CreditLot{}).Where("id = ?", lotID).
		Update("amount_remaining", remaining).Error
}

func (r *CreditRepository) CreateTransaction(tx *gorm.DB, t *model.CreditTransaction) error {
	return tx.Create(t).Error
}

func (r *CreditRepository) UpdateTransactionStatus(tx *gorm.DB, txID int64, status string) error {
	return tx.Model(&model.CreditTransaction{}).Where("id = ?", txID).
		Update("status", status).Error
}

func (r *CreditRepository) CreateAllocation(tx *gorm.DB, a *model.CreditAllocation) error {
	return tx.Create(a).Error
}

// OpenDebitByJob 查询指定任务的未冲销借记
func (r *CreditRepository) OpenDebitByJob(tx *gorm.DB, jobID int64) (*model.CreditTransaction, error) {
	var t model.CreditTransaction
	err := lockIfSupported(tx).
		Where("job_id = ? AND kind = ? AND status = ?", jobID, model.TxKindDebit, model.TxStatusApplied).
		Order("created_at DESC").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// AllocationsByTransaction 查询一笔交易的全部分配
func (r *CreditRepository) AllocationsByTransaction(tx *gorm.DB, txID int64) ([]*model.CreditAllocation, error) {
	var allocs []*model.CreditAllocation
	err := tx.Where("transaction_id = ?", txID).Order("lot_id ASC").Find(&allocs).Error
	return allocs, err
}

// ActiveBalance 计算活跃余额：未过期批次的剩余之和
func (r *CreditRepository) ActiveBalance(db *gorm.DB, userID int64, now time.Time) (int, error) {
	var balance int64
	err := db.Model(&model.CreditLot{}).
		Where("user_id = ? AND (expires_at IS NULL OR expires_at > ?)", userID, now).
		Select("COALESCE(SUM(amount_remaining), 0)").
		Scan(&balance).Error
	return int(balance), err
}

// History 按时间倒序分页查询流水
func (r *CreditRepository) History(userID int64, limit, offset int, kinds []string) ([]*model.CreditTransaction, int64, error) {
	q := r.db.Model(&model.CreditTransaction{}).Where("user_id = ?", userID)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var txs []*model.CreditTransaction
	err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&txs).Error
	return txs, total, err
}

// lockIfSupported 在支持的方言下追加 FOR UPDATE
func lockIfSupported(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
