package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
)

// Context keys set by Middleware.
const (
	AccountKey = "account"
	PayloadKey = "signed_payload"
)

// SignedRequest is the JSON document inside X-Signed-Message.
type SignedRequest struct {
	Account   string          `json:"account"`
	Action    string          `json:"action"`
	ExpiresAt int64           `json:"expires_at"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
}

const maxFutureWindow = 5 * time.Minute

// NonceStore remembers used request nonces until they expire.
type NonceStore struct {
	rdb *redis.Client
}

func NewNonceStore(rdb *redis.Client) *NonceStore { return &NonceStore{rdb: rdb} }

// Use marks nonce as used. false means it was seen before.
func (s *NonceStore) Use(ctx context.Context, account ledger.AccountID, nonce string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, "nonce:"+string(account)+":"+nonce, 1, ttl).Result()
}

// Middleware validates an EIP-191 signature over X-Signed-Message made by the
// key behind the claimed ledger account, for the given action.
func Middleware(action string, resolver AccountResolver, nonces *NonceStore, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountHdr := c.GetHeader("X-Account-Id")
		signedB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Signature")

		if accountHdr == "" || signedB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}
		account := ledger.AccountID(accountHdr)
		if _, err := account.Entity(); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Account-Id"})
			return
		}

		msg, err := base64.StdEncoding.DecodeString(signedB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Signed-Message encoding"})
			return
		}
		var req SignedRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}
		if req.Account != accountHdr || req.Action != action {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signed message does not match request"})
			return
		}
		if req.Nonce == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing nonce"})
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		sig, err := DecodeSignature(sigHex)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		recovered, err := Recover(msg, sig)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		expected, err := resolver.ResolveAddress(c.Request.Context(), account)
		if errors.Is(err, ErrUnsupportedKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account key cannot sign requests"})
			return
		}
		if err != nil {
			log.Warn("auth: resolve account", zap.String("account", accountHdr), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "account lookup unavailable"})
			return
		}
		if recovered != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		fresh, err := nonces.Use(c.Request.Context(), account, req.Nonce, ttl)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !fresh {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
			return
		}

		c.Set(AccountKey, account)
		c.Set(PayloadKey, req.Payload)
		c.Next()
	}
}

// AdminMiddleware requires "Authorization: Bearer <key>".
func AdminMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if key == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
