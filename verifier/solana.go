package verifier

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/rpc"
	"github.com/shopspring/decimal"
)

const (
	tokenInstructionBurn        = 8
	tokenInstructionBurnChecked = 15
)

var token2022ProgramID = common.PublicKeyFromString("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

// Solana verifies burns through a Solana JSON-RPC node.
type Solana struct {
	cl *client.Client
}

// NewSolana dials nothing; the client is lazy.
func NewSolana(endpoint string) *Solana {
	return &Solana{cl: client.NewClient(endpoint)}
}

func (s *Solana) Verify(ctx context.Context, signature, expectedAssetID string) (*Result, error) {
	tx, err := s.cl.GetTransactionWithConfig(ctx, signature, client.GetTransactionConfig{
		Commitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return nil, fmt.Errorf("get finalized transaction: %w", err)
	}
	confirmed := true
	if tx == nil {
		// Distinguish "not final yet" from "never happened".
		tx, err = s.cl.GetTransactionWithConfig(ctx, signature, client.GetTransactionConfig{
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return nil, fmt.Errorf("get confirmed transaction: %w", err)
		}
		if tx == nil {
			return &Result{Signature: signature}, nil
		}
		confirmed = false
	}
	return decodeTransaction(signature, confirmed, toParsedTx(tx))
}

// parsedTx is the slice of a Solana transaction the burn check needs,
// flattened so decoding can be tested without an RPC node.
type parsedTx struct {
	Err          any
	Accounts     []string
	Instructions []parsedInstruction
	Decimals     map[string]uint8 // mint -> decimals from token balances
}

type parsedInstruction struct {
	ProgramID string
	Accounts  []string
	Data      []byte
}

func toParsedTx(tx *client.Transaction) parsedTx {
	out := parsedTx{Decimals: map[string]uint8{}}
	for _, k := range tx.Transaction.Message.Accounts {
		out.Accounts = append(out.Accounts, k.ToBase58())
	}
	var inner []client.InnerInstruction
	if tx.Meta != nil {
		out.Err = tx.Meta.Err
		out.Accounts = append(out.Accounts, tx.Meta.LoadedAddresses.Writable...)
		out.Accounts = append(out.Accounts, tx.Meta.LoadedAddresses.Readonly...)
		for _, bal := range append(tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances...) {
			out.Decimals[bal.Mint] = bal.UITokenAmount.Decimals
		}
		inner = tx.Meta.InnerInstructions
	}

	key := func(i int) string {
		if i >= 0 && i < len(out.Accounts) {
			return out.Accounts[i]
		}
		return ""
	}
	add := func(programIdx int, accounts []int, data []byte) {
		ins := parsedInstruction{ProgramID: key(programIdx), Data: data}
		for _, a := range accounts {
			ins.Accounts = append(ins.Accounts, key(a))
		}
		out.Instructions = append(out.Instructions, ins)
	}
	for _, ins := range tx.Transaction.Message.Instructions {
		add(ins.ProgramIDIndex, ins.Accounts, ins.Data)
	}
	for _, group := range inner {
		for _, ins := range group.Instructions {
			add(ins.ProgramIDIndex, ins.Accounts, ins.Data)
		}
	}
	return out
}

func decodeTransaction(signature string, confirmed bool, tx parsedTx) (*Result, error) {
	res := &Result{Signature: signature, Found: true, Confirmed: confirmed}
	if tx.Err != nil {
		raw, err := json.Marshal(tx.Err)
		if err != nil {
			res.ChainError = fmt.Sprint(tx.Err)
		} else {
			res.ChainError = string(raw)
		}
	}
	for _, ins := range tx.Instructions {
		burn, ok := decodeBurn(ins, tx.Decimals)
		if ok {
			res.Burns = append(res.Burns, burn)
		}
	}
	return res, nil
}

// decodeBurn recognises SPL Token and Token-2022 Burn / BurnChecked.
// Accounts: [token account, mint, authority]. Data: tag, u64 LE amount
// and, for BurnChecked, the decimals byte.
func decodeBurn(ins parsedInstruction, decimals map[string]uint8) (BurnInstruction, bool) {
	if ins.ProgramID != common.TokenProgramID.ToBase58() && ins.ProgramID != token2022ProgramID.ToBase58() {
		return BurnInstruction{}, false
	}
	if len(ins.Data) < 9 || len(ins.Accounts) < 3 {
		return BurnInstruction{}, false
	}
	mint := ins.Accounts[1]
	dec, known := decimals[mint]
	switch ins.Data[0] {
	case tokenInstructionBurn:
	case tokenInstructionBurnChecked:
		if len(ins.Data) < 10 {
			return BurnInstruction{}, false
		}
		dec, known = ins.Data[9], true
	default:
		return BurnInstruction{}, false
	}
	if !known {
		return BurnInstruction{}, false
	}
	raw := binary.LittleEndian.Uint64(ins.Data[1:9])
	return BurnInstruction{
		Mint:      mint,
		Authority: ins.Accounts[2],
		Amount:    decimal.NewFromUint64(raw).Shift(-int32(dec)),
	}, true
}
