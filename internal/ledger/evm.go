package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20BalanceABIJSON = `[
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

var (
	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error
)

func erc20Instance() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20BalanceABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// EVMBalanceReader reads token balances through the ledger's JSON-RPC relay,
// where every token is an ERC-20 facade at its long-zero address.
type EVMBalanceReader struct {
	caller ethereum.ContractCaller
}

func NewEVMBalanceReader(caller ethereum.ContractCaller) *EVMBalanceReader {
	return &EVMBalanceReader{caller: caller}
}

// DialEVMBalanceReader connects to a JSON-RPC relay.
func DialEVMBalanceReader(ctx context.Context, rpcURL string) (*EVMBalanceReader, func(), error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &EVMBalanceReader{caller: eth}, eth.Close, nil
}

func (r *EVMBalanceReader) QueryBalance(ctx context.Context, account AccountID, token TokenID) (int64, error) {
	acct, err := account.Entity()
	if err != nil {
		return 0, err
	}
	tok, err := token.Entity()
	if err != nil {
		return 0, err
	}
	parsed, err := erc20Instance()
	if err != nil {
		return 0, fmt.Errorf("parse erc20 abi: %w", err)
	}

	data, err := parsed.Pack("balanceOf", acct.EVMAddress())
	if err != nil {
		return 0, fmt.Errorf("pack balanceOf: %w", err)
	}
	to := tok.EVMAddress()
	resp, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("balanceOf %s on %s: %w", account, token, err)
	}
	values, err := parsed.Unpack("balanceOf", resp)
	if err != nil {
		return 0, fmt.Errorf("unpack balanceOf: %w", err)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("balanceOf %s: empty result", account)
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("balanceOf %s: unexpected type %T", account, values[0])
	}
	if !bal.IsInt64() {
		return 0, fmt.Errorf("balanceOf %s: %s overflows int64", account, bal)
	}
	return bal.Int64(), nil
}

// compile-time check
var _ BalanceReader = (*EVMBalanceReader)(nil)

var _ interface {
	ScheduleCreator
	ScheduleSigner
	ScheduleStatusReader
	BalanceReader
	TransferExecutor
} = (*GatewayClient)(nil)

// TokenAddress returns the ERC-20 facade address of a token.
func TokenAddress(token TokenID) (common.Address, error) {
	e, err := token.Entity()
	if err != nil {
		return common.Address{}, err
	}
	return e.EVMAddress(), nil
}
