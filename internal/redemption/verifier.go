package redemption

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/indexer"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/retry"
)

// TransferQuerier is the indexer capability the verifier polls.
type TransferQuerier interface {
	QueryTransfers(ctx context.Context, account ledger.AccountID, since time.Time, token ledger.TokenID) ([]indexer.Transfer, error)
}

// Expectation describes the inbound transfer a request depends on.
type Expectation struct {
	RequestID string
	From      ledger.AccountID
	To        ledger.AccountID
	Token     ledger.TokenID
	Amount    int64 // smallest units, positive
	Since     time.Time
}

// Match identifies the verified inbound transaction.
type Match struct {
	TransactionID string
	ConsensusAt   time.Time
}

// Verifier confirms inbound transfers through the lagging indexer with a
// bounded polling schedule.
type Verifier struct {
	querier TransferQuerier
	claims  InboundClaimer
	policy  retry.Policy
	skew    time.Duration
	log     *zap.Logger
}

func NewVerifier(q TransferQuerier, claims InboundClaimer, policy retry.Policy, skew time.Duration, log *zap.Logger) *Verifier {
	return &Verifier{querier: q, claims: claims, policy: policy, skew: skew, log: log}
}

// VerifyInboundTransfer polls until a successful transaction moving exactly
// Amount of Token from From to To shows up, or the schedule is exhausted.
// false with a nil error is a definitive "not found". An error means no
// lookup succeeded at all and nothing can be concluded.
func (v *Verifier) VerifyInboundTransfer(ctx context.Context, exp Expectation) (Match, bool, error) {
	if exp.Amount <= 0 {
		return Match{}, false, fmt.Errorf("verify %s: non-positive amount %d", exp.RequestID, exp.Amount)
	}
	since := exp.Since.Add(-v.skew)
	log := v.log.With(zap.String("request", exp.RequestID), zap.String("from", string(exp.From)))

	var (
		match     Match
		succeeded bool
	)
	found, err := retry.Poll(ctx, v.policy, func(ctx context.Context, attempt int) (bool, error) {
		transfers, err := v.querier.QueryTransfers(ctx, exp.From, since, exp.Token)
		if err != nil {
			log.Warn("indexer query failed", zap.Int("attempt", attempt+1), zap.Error(err))
			return false, err
		}
		succeeded = true
		for _, t := range transfers {
			if !matches(t, exp) {
				continue
			}
			ok, err := v.claims.ClaimInbound(ctx, t.TransactionID, exp.RequestID)
			if err != nil {
				return false, err
			}
			if !ok {
				log.Info("matching transfer already backs another request", zap.String("tx", t.TransactionID))
				continue
			}
			match = Match{TransactionID: t.TransactionID, ConsensusAt: t.ConsensusAt}
			return true, nil
		}
		log.Debug("inbound transfer not yet indexed", zap.Int("attempt", attempt+1))
		return false, nil
	})
	if found {
		log.Info("inbound transfer verified", zap.String("tx", match.TransactionID))
		return match, true, nil
	}
	if ctx.Err() != nil {
		return Match{}, false, ctx.Err()
	}
	if !succeeded && err != nil {
		return Match{}, false, fmt.Errorf("verify %s: %w", exp.RequestID, err)
	}
	log.Warn("inbound transfer not found", zap.Duration("waited", v.policy.Total()))
	return Match{}, false, nil
}

// matches checks the debit leg and the paired credit leg of one transaction.
func matches(t indexer.Transfer, exp Expectation) bool {
	if !t.Succeeded() || t.Account != exp.From || t.Token != exp.Token || t.Amount != -exp.Amount {
		return false
	}
	for _, l := range t.Legs {
		if l.Account == exp.To && l.Token == exp.Token && l.Amount == exp.Amount {
			return true
		}
	}
	return false
}
