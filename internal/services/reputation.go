package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

const (
	maxVouchContextRunes    = 500
	maxDonationMessageRunes = 200
)

// ReputationRepository defines persistence for votes, vouches and transfers.
type ReputationRepository interface {
	ApplyVote(ctx context.Context, targetID, giverID, value int) (types.ReputationSummary, error)
	UpsertVouch(ctx context.Context, targetID, giverID int, vouchContext string) (bool, int, error)
	Transfer(ctx context.Context, fromID, toID int, amount int64, message string) (types.Transaction, error)
}

type VouchResult struct {
	Created bool `json:"created"`
	Vouches int  `json:"vouches"`
}

// ReputationService handles reputation votes, vouches and donations.
type ReputationService struct {
	repo    ReputationRepository
	users   UserReader
	notices NoticeSender
	logger  *zap.Logger
}

func NewReputationService(repo ReputationRepository, users UserReader, notices NoticeSender, logger *zap.Logger) *ReputationService {
	return &ReputationService{repo: repo, users: users, notices: notices, logger: logger}
}

// Vote records giverID's +1 or -1 for targetID. Changing an existing vote
// moves the total by two.
func (s *ReputationService) Vote(ctx context.Context, giverID, targetID, value int) (types.ReputationSummary, error) {
	if giverID == targetID {
		return types.ReputationSummary{}, invalid("You cannot give reputation to yourself")
	}
	if value != 1 && value != -1 {
		return types.ReputationSummary{}, invalid("Reputation value must be 1 or -1")
	}
	giver, _, err := s.pair(ctx, giverID, targetID)
	if err != nil {
		return types.ReputationSummary{}, err
	}

	summary, err := s.repo.ApplyVote(ctx, targetID, giverID, value)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateVote) {
			return types.ReputationSummary{}, invalid("You have already given this reputation")
		}
		return types.ReputationSummary{}, notFoundAs(err, "User not found")
	}

	sign := "+"
	if value < 0 {
		sign = "-"
	}
	s.notices.Deliver(ctx, Notice{
		RecipientID: targetID,
		SenderID:    giverID,
		Type:        types.NotifyReputation,
		Message:     fmt.Sprintf("%s gave you %s1 reputation", giver.Username, sign),
		Data:        map[string]int{"value": value, "reputation": summary.Reputation},
	})
	return summary, nil
}

// Vouch records a vouch. Repeat vouches from the same giver refresh the
// context without changing the count.
func (s *ReputationService) Vouch(ctx context.Context, giverID, targetID int, vouchContext string) (VouchResult, error) {
	if giverID == targetID {
		return VouchResult{}, invalid("You cannot vouch for yourself")
	}
	vouchContext = strings.TrimSpace(vouchContext)
	if utf8.RuneCountInString(vouchContext) > maxVouchContextRunes {
		return VouchResult{}, invalid("Vouch context must be at most %d characters", maxVouchContextRunes)
	}
	giver, _, err := s.pair(ctx, giverID, targetID)
	if err != nil {
		return VouchResult{}, err
	}

	created, total, err := s.repo.UpsertVouch(ctx, targetID, giverID, vouchContext)
	if err != nil {
		return VouchResult{}, notFoundAs(err, "User not found")
	}

	if created {
		s.notices.Deliver(ctx, Notice{
			RecipientID: targetID,
			SenderID:    giverID,
			Type:        types.NotifyVouch,
			Message:     giver.Username + " vouched for you",
			Data:        map[string]any{"context": vouchContext, "vouches": total},
		})
	}
	return VouchResult{Created: created, Vouches: total}, nil
}

func (s *ReputationService) Donate(ctx context.Context, fromID, toID int, amount int64, message string) (types.Transaction, error) {
	if fromID == toID {
		return types.Transaction{}, invalid("You cannot donate to yourself")
	}
	if amount <= 0 {
		return types.Transaction{}, invalid("Amount must be greater than zero")
	}
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) > maxDonationMessageRunes {
		return types.Transaction{}, invalid("Message must be at most %d characters", maxDonationMessageRunes)
	}
	sender, recipient, err := s.pair(ctx, fromID, toID)
	if err != nil {
		return types.Transaction{}, err
	}

	txn, err := s.repo.Transfer(ctx, fromID, toID, amount, message)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return types.Transaction{}, invalid("Insufficient balance")
		}
		return types.Transaction{}, notFoundAs(err, "User not found")
	}
	txn.From = sender.Summary()
	txn.To = recipient.Summary()

	s.logger.Info("donation",
		zap.Int("from_user", fromID),
		zap.Int("to_user", toID),
		zap.Int64("amount", amount),
	)
	s.notices.Deliver(ctx, Notice{
		RecipientID: toID,
		SenderID:    fromID,
		Type:        types.NotifyDonation,
		Message:     fmt.Sprintf("%s donated %d to you", sender.Username, amount),
		Data:        map[string]any{"amount": amount, "message": message, "transaction_id": txn.ID},
	})
	return txn, nil
}

// pair loads the acting user, who must be active, and the target.
func (s *ReputationService) pair(ctx context.Context, actorID, targetID int) (types.User, types.User, error) {
	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return types.User{}, types.User{}, notFoundAs(err, "User not found")
	}
	actor, err := activeUser(ctx, s.users, actorID)
	if err != nil {
		return types.User{}, types.User{}, err
	}
	return actor, target, nil
}
