package service

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/model"
	"github.com/qs3c/storyvoice_go_server/internal/model/dto"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
)

// CreditService 积分账本。所有操作对单个用户原子：
// 每次操作都在一个锁定用户行的事务内完成，同一用户的并发借记串行执行。
type CreditService struct {
	creditRepo *repository.CreditRepository
	userRepo   *repository.UserRepository
	cfg        *config.Config
}

func NewCreditService(creditRepo *repository.CreditRepository, userRepo *repository.UserRepository, cfg *config.Config) *CreditService {
	return &CreditService{
		creditRepo: creditRepo,
		userRepo:   userRepo,
		cfg:        cfg,
	}
}

// Grant 创建一个新批次并记一笔 credit 流水
func (s *CreditService) Grant(userID int64, amount int, source string, expiresAt *time.Time, reason string, metadata model.JSONMap) (*model.CreditLot, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: 授予额度必须为正", ErrInvalidArgument)
	}
	if !model.ValidSource(source) {
		return nil, fmt.Errorf("%w: 未知积分来源 %s", ErrInvalidArgument, source)
	}
	now := time.Now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: 过期时间已过去", ErrInvalidArgument)
	}

	var lot *model.CreditLot
	err := s.creditRepo.DB().Transaction(func(tx *gorm.DB) error {
		if _, err := s.userRepo.GetForUpdate(tx, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		lot = &model.CreditLot{
			UserID:          userID,
			Source:          source,
			AmountGranted:   amount,
			AmountRemaining: amount,
			ExpiresAt:       expiresAt,
		}
		if err := s.creditRepo.CreateLot(tx, lot); err != nil {
			return err
		}

		t := &model.CreditTransaction{
			UserID:   userID,
			Amount:   amount,
			Kind:     model.TxKindCredit,
			Status:   model.TxStatusApplied,
			Reason:   reason,
			Metadata: metadata,
		}
		if err := s.creditRepo.CreateTransaction(tx, t); err != nil {
			return err
		}
		if err := s.creditRepo.CreateAllocation(tx, &model.CreditAllocation{
			TransactionID: t.ID,
			LotID:         lot.ID,
			Amount:        amount,
		}); err != nil {
			return err
		}

		return s.refreshCachedBalance(tx, userID, now)
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// GrantInitial 为新用户发放初始免费积分（幂等）
func (s *CreditService) GrantInitial(userID int64) error {
	if s.cfg.Credits.InitialCredits <= 0 {
		return nil
	}

	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return err
	}
	if user.InitialGrantDone {
		return nil
	}

	if _, err := s.Grant(userID, s.cfg.Credits.InitialCredits, model.SourceFree, nil,
		"initial_grant", nil); err != nil {
		return err
	}
	return s.userRepo.UpdateFields(userID, map[string]interface{}{"initial_grant_done": true})
}

// Debit 在活跃批次上按优先级消费 amount。
// 同一 jobID 已有生效借记时直接返回该笔交易（幂等重试）。
func (s *CreditService) Debit(userID int64, amount int, jobID int64, storyID *int64, reason string) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: 借记额度必须为正", ErrInvalidArgument)
	}

	now := time.Now().UTC()
	var result *model.CreditTransaction
	err := s.creditRepo.DB().Transaction(func(tx *gorm.DB) error {
		if _, err := s.userRepo.GetForUpdate(tx, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		// 幂等：jobID 上已有生效借记则返回原交易
		existing, err := s.creditRepo.OpenDebitByJob(tx, jobID)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		lots, err := s.creditRepo.ActiveLots(tx, userID, now)
		if err != nil {
			return err
		}
		s.sortLotsByPriority(lots)

		available := 0
		for _, lot := range lots {
			available += lot.AmountRemaining
		}
		if available < amount {
			return &InsufficientCreditsError{Required: amount, Available: available}
		}

		t := &model.CreditTransaction{
			UserID:  userID,
			Amount:  -amount,
			Kind:    model.TxKindDebit,
			Status:  model.TxStatusApplied,
			Reason:  reason,
			JobID:   &jobID,
			StoryID: storyID,
		}
		if err := s.creditRepo.CreateTransaction(tx, t); err != nil {
			return err
		}

		remaining := amount
		for _, lot := range lots {
			if remaining <= 0 {
				break
			}
			take := lot.AmountRemaining
			if take > remaining {
				take = remaining
			}
			if take <= 0 {
				continue
			}
			if err := s.creditRepo.UpdateLotRemaining(tx, lot.ID, lot.AmountRemaining-take); err != nil {
				return err
			}
			if err := s.creditRepo.CreateAllocation(tx, &model.CreditAllocation{
				TransactionID: t.ID,
				LotID:         lot.ID,
				Amount:        -take,
			}); err != nil {
				return err
			}
			remaining -= take
		}
		if remaining > 0 {
			// 锁内余额仍不足，理论上不可达；不留半笔借记
			return &InsufficientCreditsError{Required: amount, Available: available}
		}

		result = t
		return s.refreshCachedBalance(tx, userID, now)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RefundByJob 冲销 jobID 的生效借记，把额度退回原批次（幂等）。
// 没有可冲销的借记时返回 (nil, nil)。
func (s *CreditService) RefundByJob(jobID int64, reason string) (*model.CreditTransaction, error) {
	now := time.Now().UTC()
	var result *model.CreditTransaction
	err := s.creditRepo.DB().Transaction(func(tx *gorm.DB) error {
		debit, err := s.creditRepo.OpenDebitByJob(tx, jobID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil // 已冲销或不存在，幂等返回
			}
			return err
		}

		if _, err := s.userRepo.GetForUpdate(tx, debit.UserID); err != nil {
			return err
		}

		amount := -debit.Amount // 借记金额为负，取正
		refund := &model.CreditTransaction{
			UserID:  debit.UserID,
			Amount:  amount,
			Kind:    model.TxKindRefund,
			Status:  model.TxStatusApplied,
			Reason:  reason,
			JobID:   &jobID,
			StoryID: debit.StoryID,
		}
		if err := s.creditRepo.CreateTransaction(tx, refund); err != nil {
			return err
		}

		// 按原始分配逐批次退回；批次已过期也照退，过期额度不可花
		allocs, err := s.creditRepo.AllocationsByTransaction(tx, debit.ID)
		if err != nil {
			return err
		}
		for _, alloc := range allocs {
			lot, err := s.creditRepo.GetLot(tx, alloc.LotID)
			if err != nil {
				return err
			}
			restore := -alloc.Amount // 借记分配为负
			newRemaining := lot.AmountRemaining + restore
			if newRemaining > lot.AmountGranted {
				return fmt.Errorf("allocation sum mismatch: lot %d would exceed granted amount", lot.ID)
			}
			if err := s.creditRepo.UpdateLotRemaining(tx, lot.ID, newRemaining); err != nil {
				return err
			}
			if err := s.creditRepo.CreateAllocation(tx, &model.CreditAllocation{
				TransactionID: refund.ID,
				LotID:         lot.ID,
				Amount:        restore,
			}); err != nil {
				return err
			}
		}

		if err := s.creditRepo.UpdateTransactionStatus(tx, debit.ID, model.TxStatusRefunded); err != nil {
			return err
		}

		result = refund
		return s.refreshCachedBalance(tx, debit.UserID, now)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExpireNow 把到期批次清零并为每个批次记一笔 expire 流水。
// userID 为 nil 时处理全部用户。返回受影响的批次数。
func (s *CreditService) ExpireNow(userID *int64, asOf time.Time) (int, error) {
	affected := 0
	err := s.creditRepo.DB().Transaction(func(tx *gorm.DB) error {
		lots, err := s.creditRepo.ExpiredLots(tx, userID, asOf)
		if err != nil {
			return err
		}

		touchedUsers := make(map[int64]bool)
		for _, lot := range lots {
			lost := lot.AmountRemaining
			if lost <= 0 {
				continue
			}

			t := &model.CreditTransaction{
				UserID: lot.UserID,
				Amount: -lost,
				Kind:   model.TxKindExpire,
				Status: model.TxStatusApplied,
				Reason: fmt.Sprintf("lot_expired:%d", lot.ID),
			}
			if err := s.creditRepo.CreateTransaction(tx, t); err != nil {
				return err
			}
			if err := s.creditRepo.CreateAllocation(tx, &model.CreditAllocation{
				TransactionID: t.ID,
				LotID:         lot.ID,
				Amount:        -lost,
			}); err != nil {
				return err
			}
			if err := s.creditRepo.UpdateLotRemaining(tx, lot.ID, 0); err != nil {
				return err
			}
			affected++
			touchedUsers[lot.UserID] = true
		}

		for uid := range touchedUsers {
			if err := s.refreshCachedBalance(tx, uid, asOf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Summary 用户积分概览。缓存余额与活跃余额不一致时现场校正。
func (s *CreditService) Summary(userID int64) (*dto.CreditSummary, error) {
	now := time.Now().UTC()

	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	active, err := s.creditRepo.ActiveBalance(s.creditRepo.DB(), userID, now)
	if err != nil {
		return nil, err
	}

	mismatch := user.CreditsBalanceCached != active
	if mismatch {
		log.Printf("Credit cache reconciled for user %d: cached=%d active=%d",
			userID, user.CreditsBalanceCached, active)
		if err := s.userRepo.SetCachedBalance(s.creditRepo.DB(), userID, active); err != nil {
			return nil, err
		}
	}

	lots, err := s.creditRepo.LotsByUser(s.creditRepo.DB(), userID)
	if err != nil {
		return nil, err
	}

	summary := &dto.CreditSummary{
		ActiveBalance: active,
		CachedBalance: active,
		Mismatch:      mismatch,
		UnitSize:      s.cfg.Credits.UnitSize,
		UnitLabel:     s.cfg.Credits.UnitLabel,
	}
	for _, lot := range lots {
		summary.Lots = append(summary.Lots, dto.LotView{
			LotID:           lot.ID,
			Source:          lot.Source,
			AmountGranted:   lot.AmountGranted,
			AmountRemaining: lot.AmountRemaining,
			ExpiresAt:       lot.ExpiresAt,
			Expired:         lot.Expired(now),
		})
	}
	return summary, nil
}

// History 按时间倒序分页查询流水。limit 限定在 [1, 100]，默认 20。
func (s *CreditService) History(userID int64, limit, offset int, kinds []string) ([]*model.CreditTransaction, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	for _, kind := range kinds {
		switch kind {
		case model.TxKindDebit, model.TxKindCredit, model.TxKindRefund, model.TxKindExpire:
		default:
			return nil, 0, fmt.Errorf("%w: 未知流水类型 %s", ErrInvalidArgument, kind)
		}
	}
	return s.creditRepo.History(userID, limit, offset, kinds)
}

// ActiveBalance 当前活跃余额
func (s *CreditService) ActiveBalance(userID int64) (int, error) {
	return s.creditRepo.ActiveBalance(s.creditRepo.DB(), userID, time.Now().UTC())
}

// sortLotsByPriority 借记消费顺序：
// (来源优先级, expires_at 升序且 NULL 最后, lot_id 升序)
func (s *CreditService) sortLotsByPriority(lots []*model.CreditLot) {
	rank := make(map[string]int)
	for i, src := range s.cfg.Credits.SourcesPriorityList() {
		rank[src] = i
	}
	unknownRank := len(rank)

	sort.SliceStable(lots, func(i, j int) bool {
		ri, ok := rank[lots[i].Source]
		if !ok {
			ri = unknownRank
		}
		rj, ok := rank[lots[j].Source]
		if !ok {
			rj = unknownRank
		}
		if ri != rj {
			return ri < rj
		}
		ei, ej := lots[i].ExpiresAt, lots[j].ExpiresAt
		switch {
		case ei == nil && ej != nil:
			return false
		case ei != nil && ej == nil:
			return true
		case ei != nil && ej != nil && !ei.Equal(*ej):
			return ei.Before(*ej)
		}
		return lots[i].ID < lots[j].ID
	})
}

// refreshCachedBalance 以批次余额重算并写回缓存
func (s *CreditService) refreshCachedBalance(tx *gorm.DB, userID int64, now time.Time) error {
	active, err := s.creditRepo.ActiveBalance(tx, userID, now)
	if err != nil {
		return err
	}
	return s.userRepo.SetCachedBalance(tx, userID, active)
}
