// Package indexer queries the ledger's mirror node, the eventually consistent
// read replica of transaction history.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
)

// Transfer is one token transfer leg within a transaction.
type Transfer struct {
	TransactionID string
	ConsensusAt   time.Time
	Result        string
	Account       ledger.AccountID
	Token         ledger.TokenID
	Amount        int64
	// Legs holds every token leg of the same transaction, including this one.
	Legs []ledger.Leg
}

// Succeeded reports whether the enclosing transaction reached consensus successfully.
func (t Transfer) Succeeded() bool { return t.Result == "SUCCESS" }

// TopicMessage is a consensus message on a topic.
type TopicMessage struct {
	SequenceNumber int64
	ConsensusAt    time.Time
	Message        []byte
}

// Client is a read-only mirror node REST client.
type Client struct {
	baseURL string
	http    *http.Client
	// pageLimit caps how many transactions one query walks through.
	pageLimit int
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		pageLimit: 5,
	}
}

// ── wire types ────────────────────────────────────────────────────────────────

type tokenTransfer struct {
	TokenID string `json:"token_id"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

type transaction struct {
	TransactionID      string          `json:"transaction_id"`
	ConsensusTimestamp string          `json:"consensus_timestamp"`
	Result             string          `json:"result"`
	Name               string          `json:"name"`
	TokenTransfers     []tokenTransfer `json:"token_transfers"`
}

type links struct {
	Next string `json:"next"`
}

type transactionsPage struct {
	Transactions []transaction `json:"transactions"`
	Links        links         `json:"links"`
}

type schedule struct {
	ScheduleID        string  `json:"schedule_id"`
	Deleted           bool    `json:"deleted"`
	ExecutedTimestamp *string `json:"executed_timestamp"`
}

type topicMessage struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	Message            []byte `json:"message"` // base64 in JSON
	SequenceNumber     int64  `json:"sequence_number"`
}

type topicMessagesPage struct {
	Messages []topicMessage `json:"messages"`
}

type account struct {
	Account    string `json:"account"`
	EVMAddress string `json:"evm_address"`
	Key        *struct {
		Type string `json:"_type"`
		Key  string `json:"key"`
	} `json:"key"`
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("mirror GET %s: status %d", path, resp.StatusCode)
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

// ParseTimestamp parses "seconds.nanoseconds" consensus timestamps.
func ParseTimestamp(s string) (time.Time, error) {
	secStr, nsStr, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	var ns int64
	if nsStr != "" {
		nsStr = (nsStr + "000000000")[:9]
		if ns, err = strconv.ParseInt(nsStr, 10, 64); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
		}
	}
	return time.Unix(sec, ns).UTC(), nil
}

// FormatTimestamp renders t as "seconds.nanoseconds".
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

// ── queries ───────────────────────────────────────────────────────────────────

// QueryTransfers returns the token legs touching account for token in
// transactions with consensus time at or after since, oldest first.
func (c *Client) QueryTransfers(ctx context.Context, acct ledger.AccountID, since time.Time, token ledger.TokenID) ([]Transfer, error) {
	q := url.Values{}
	q.Set("account.id", string(acct))
	q.Set("timestamp", "gte:"+FormatTimestamp(since))
	q.Set("transactiontype", "CRYPTOTRANSFER")
	q.Set("order", "asc")
	q.Set("limit", "100")
	path := "/api/v1/transactions?" + q.Encode()

	var out []Transfer
	for page := 0; path != "" && page < c.pageLimit; page++ {
		var body transactionsPage
		if _, err := c.getJSON(ctx, path, &body); err != nil {
			return nil, err
		}
		for _, tx := range body.Transactions {
			out = append(out, matchingLegs(tx, acct, token)...)
		}
		path = body.Links.Next
	}
	return out, nil
}

func matchingLegs(tx transaction, acct ledger.AccountID, token ledger.TokenID) []Transfer {
	ts, _ := ParseTimestamp(tx.ConsensusTimestamp)
	legs := make([]ledger.Leg, 0, len(tx.TokenTransfers))
	for _, tt := range tx.TokenTransfers {
		legs = append(legs, ledger.Leg{Account: ledger.AccountID(tt.Account), Token: ledger.TokenID(tt.TokenID), Amount: tt.Amount})
	}
	var out []Transfer
	for _, l := range legs {
		if l.Account != acct || l.Token != token {
			continue
		}
		out = append(out, Transfer{
			TransactionID: tx.TransactionID,
			ConsensusAt:   ts,
			Result:        tx.Result,
			Account:       l.Account,
			Token:         l.Token,
			Amount:        l.Amount,
			Legs:          legs,
		})
	}
	return out
}

// QueryScheduleStatus reads schedule execution state from the mirror node.
func (c *Client) QueryScheduleStatus(ctx context.Context, id ledger.ScheduleID) (ledger.ScheduleStatus, error) {
	var s schedule
	code, err := c.getJSON(ctx, "/api/v1/schedules/"+url.PathEscape(string(id)), &s)
	if code == http.StatusNotFound {
		return ledger.ScheduleStatus{}, fmt.Errorf("mirror schedule %s: %w", id, ledger.ErrScheduleNotFound)
	}
	if err != nil {
		return ledger.ScheduleStatus{}, err
	}
	st := ledger.ScheduleStatus{Deleted: s.Deleted}
	if s.ExecutedTimestamp != nil && *s.ExecutedTimestamp != "" {
		st.Executed = true
		st.ExecutedAt, _ = ParseTimestamp(*s.ExecutedTimestamp)
	}
	return st, nil
}

// LatestTopicMessage returns the most recent message on a topic, or nil when
// the topic is empty.
func (c *Client) LatestTopicMessage(ctx context.Context, topic string) (*TopicMessage, error) {
	var page topicMessagesPage
	if _, err := c.getJSON(ctx, "/api/v1/topics/"+url.PathEscape(topic)+"/messages?order=desc&limit=1", &page); err != nil {
		return nil, err
	}
	if len(page.Messages) == 0 {
		return nil, nil
	}
	m := page.Messages[0]
	ts, _ := ParseTimestamp(m.ConsensusTimestamp)
	return &TopicMessage{SequenceNumber: m.SequenceNumber, ConsensusAt: ts, Message: m.Message}, nil
}

// AccountKey is the public key and EVM alias the mirror node reports for an account.
type AccountKey struct {
	Account    ledger.AccountID
	EVMAddress string
	KeyType    string
	PublicKey  string
}

func (c *Client) AccountInfo(ctx context.Context, id ledger.AccountID) (*AccountKey, error) {
	var a account
	if _, err := c.getJSON(ctx, "/api/v1/accounts/"+url.PathEscape(string(id)), &a); err != nil {
		return nil, err
	}
	out := &AccountKey{Account: ledger.AccountID(a.Account), EVMAddress: a.EVMAddress}
	if a.Key != nil {
		out.KeyType = a.Key.Type
		out.PublicKey = a.Key.Key
	}
	return out, nil
}

var _ ledger.ScheduleStatusReader = (*Client)(nil)
