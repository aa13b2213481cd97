package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// BridgeABI is the ABI for the token bridge contract. The contract keeps
// its own record per 32-byte operation id; the exists flag on those records
// is the source of truth for "has this already been committed".
const BridgeABI = `[
	{
		"inputs": [
			{"internalType": "bytes32", "name": "mintId", "type": "bytes32"},
			{"internalType": "address", "name": "to", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "mint",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "mintId", "type": "bytes32"}
		],
		"name": "getMintRecord",
		"outputs": [
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bool", "name": "exists", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "burnId", "type": "bytes32"}
		],
		"name": "getBurnRecord",
		"outputs": [
			{"internalType": "address", "name": "user", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bool", "name": "exists", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "bridgeId", "type": "bytes32"}
		],
		"name": "getBridgeRecord",
		"outputs": [
			{"internalType": "address", "name": "user", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "uint256", "name": "destinationChainId", "type": "uint256"},
			{"internalType": "bool", "name": "exists", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "mintId", "type": "bytes32"},
			{"indexed": true, "internalType": "address", "name": "to", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "Minted",
		"type": "event"
	}
]`

// RecordID is the 32-byte correlation id shared between the ledger and the
// contract's own records.
type RecordID [32]byte

// ParseRecordID parses a 32-byte hex identifier (with or without 0x prefix)
func ParseRecordID(s string) (RecordID, error) {
	var id RecordID
	raw := strings.TrimPrefix(s, "0x")
	if len(raw) != 64 {
		return id, fmt.Errorf("invalid record id length: %d (expected 64 hex chars)", len(raw))
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return id, fmt.Errorf("invalid record id: %w", err)
	}
	copy(id[:], decoded)
	return id, nil
}

// Hex returns the 0x-prefixed hex form of the id
func (id RecordID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

// MintRecord is the contract's record of a committed mint
type MintRecord struct {
	Amount *big.Int
	Exists bool
}

// BurnRecord is the contract's record of a user-initiated burn awaiting payout
type BurnRecord struct {
	User   common.Address
	Amount *big.Int
	Exists bool
}

// BridgeRecord is the contract's record of a cross-chain transfer request
type BridgeRecord struct {
	User               common.Address
	Amount             *big.Int
	DestinationChainID *big.Int
	Exists             bool
}

// Bridge provides methods to interact with the token bridge contract
type Bridge struct {
	client   *Client
	contract common.Address
	abi      abi.ABI
	logger   *zap.Logger
}

// NewBridge creates a new Bridge bound to the chain's configured contract
func NewBridge(client *Client, logger *zap.Logger) (*Bridge, error) {
	parsedABI, err := abi.JSON(strings.NewReader(BridgeABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bridge ABI: %w", err)
	}

	return &Bridge{
		client:   client,
		contract: common.HexToAddress(client.chainConfig.ContractAddress),
		abi:      parsedABI,
		logger:   logger,
	}, nil
}

// ContractAddress returns the bound contract address
func (b *Bridge) ContractAddress() common.Address {
	return b.contract
}

// FindMintTx looks up the transaction that emitted Minted for the record
// id. The mint id is an indexed topic, so the node can answer from its
// log index. Returns false when no matching event is in range.
func (b *Bridge) FindMintTx(ctx context.Context, id RecordID) (common.Hash, bool, error) {
	logs, err := b.client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{b.contract},
		Topics: [][]common.Hash{
			{b.abi.Events["Minted"].ID},
			{common.Hash(id)},
		},
	})
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("failed to filter Minted logs: %w", err)
	}
	if len(logs) == 0 {
		return common.Hash{}, false, nil
	}
	return logs[len(logs)-1].TxHash, true, nil
}

// GetMintRecord reads the contract's record for a mint id
func (b *Bridge) GetMintRecord(ctx context.Context, id RecordID) (*MintRecord, error) {
	data, err := b.abi.Pack("getMintRecord", id)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getMintRecord call: %w", err)
	}

	result, err := b.client.CallContract(ctx, ethereum.CallMsg{
		To:   &b.contract,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call getMintRecord: %w", err)
	}

	values, err := b.abi.Unpack("getMintRecord", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getMintRecord result: %w", err)
	}

	return &MintRecord{
		Amount: values[0].(*big.Int),
		Exists: values[1].(bool),
	}, nil
}

// GetBurnRecord reads the contract's record for a burn id
func (b *Bridge) GetBurnRecord(ctx context.Context, id RecordID) (*BurnRecord, error) {
	data, err := b.abi.Pack("getBurnRecord", id)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getBurnRecord call: %w", err)
	}

	result, err := b.client.CallContract(ctx, ethereum.CallMsg{
		To:   &b.contract,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call getBurnRecord: %w", err)
	}

	values, err := b.abi.Unpack("getBurnRecord", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getBurnRecord result: %w", err)
	}

	return &BurnRecord{
		User:   values[0].(common.Address),
		Amount: values[1].(*big.Int),
		Exists: values[2].(bool),
	}, nil
}

// GetBridgeRecord reads the contract's record for a bridge id
func (b *Bridge) GetBridgeRecord(ctx context.Context, id RecordID) (*BridgeRecord, error) {
	data, err := b.abi.Pack("getBridgeRecord", id)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getBridgeRecord call: %w", err)
	}

	result, err := b.client.CallContract(ctx, ethereum.CallMsg{
		To:   &b.contract,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call getBridgeRecord: %w", err)
	}

	values, err := b.abi.Unpack("getBridgeRecord", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getBridgeRecord result: %w", err)
	}

	return &BridgeRecord{
		User:               values[0].(common.Address),
		Amount:             values[1].(*big.Int),
		DestinationChainID: values[2].(*big.Int),
		Exists:             values[3].(bool),
	}, nil
}

// Mint calls mint() on the bridge contract
func (b *Bridge) Mint(ctx context.Context, id RecordID, to common.Address, amount *big.Int) (common.Hash, error) {
	b.logger.Info("Calling mint on bridge contract",
		zap.String("mint_id", id.Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()))

	data, err := b.abi.Pack("mint", id, to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack mint call: %w", err)
	}

	txHash, err := b.client.SignAndSendTransaction(ctx, b.contract, data, big.NewInt(0))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send mint transaction: %w", err)
	}

	return txHash, nil
}

// MintAndWait calls mint() and waits for the transaction to be mined
func (b *Bridge) MintAndWait(ctx context.Context, id RecordID, to common.Address, amount *big.Int, timeout time.Duration) (*types.Receipt, error) {
	txHash, err := b.Mint(ctx, id, to, amount)
	if err != nil {
		return nil, err
	}

	receipt, err := b.client.WaitForTransaction(ctx, txHash, timeout)
	if err != nil {
		return nil, fmt.Errorf("mint transaction failed: %w", err)
	}

	b.logger.Info("Mint transaction confirmed",
		zap.String("mint_id", id.Hex()),
		zap.String("tx_hash", txHash.Hex()),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.Uint64("block_number", receipt.BlockNumber.Uint64()))

	return receipt, nil
}
