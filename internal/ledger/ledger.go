package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Account kinds as reported by the ledger.
const (
	KindEvent      = "event"
	KindTicket     = "ticket"
	KindListing    = "listing"
	KindEscrow     = "escrow"
	KindPermission = "permission"
)

// Sub-operation kinds a proposal may carry. The ledger applies the whole
// ordered list atomically or not at all.
const (
	OpCreateListing = "create_listing"
	OpCreateEscrow  = "create_escrow"
	OpEscrowDeposit = "escrow_deposit"
	OpEscrowRelease = "escrow_release"
	OpCloseEscrow   = "close_escrow"
	OpDeleteListing = "delete_listing"
	OpTransferFunds = "transfer_funds"
	OpRedeemTicket  = "redeem_ticket"
	OpBurnTicket    = "burn_ticket"
	OpMintTicket    = "mint_ticket"
)

type (
	// AccountState is a point-in-time read of one ledger sub-account.
	AccountState struct {
		Address string          `json:"address"`
		Kind    string          `json:"kind"`
		Slot    uint64          `json:"slot"`
		Data    json.RawMessage `json:"data"`
	}

	// Op is one sub-operation inside a proposal.
	Op struct {
		Kind   string          `json:"kind"`
		Params json.RawMessage `json:"params"`
	}

	// Proposal is an ordered list of sub-operations submitted as one
	// atomic unit. ClientID deduplicates accidental double submissions
	// on the ledger side; it is not a retry mechanism.
	Proposal struct {
		ClientID  string `json:"client_id"`
		Signer    string `json:"signer"`
		Ops       []Op   `json:"ops"`
		Signature string `json:"signature,omitempty"`
	}

	// Confirmation is the ledger's acknowledgement of an applied proposal.
	Confirmation struct {
		ClientID  string `json:"client_id"`
		Slot      uint64 `json:"slot"`
		Signature string `json:"signature"`
	}
)

// Gateway is the single seam between this client and the shared ledger.
// Implementations must not retry a submission on their own: retrying a
// confirmed-but-unacknowledged proposal could double-spend, so the retry
// decision always belongs to the caller.
type Gateway interface {
	FetchAccount(ctx context.Context, address string) (*AccountState, error)
	Submit(ctx context.Context, p *Proposal) (*Confirmation, error)
}

// Decode unmarshals the account payload into a concrete model.
func (a *AccountState) Decode(v any) error {
	if err := json.Unmarshal(a.Data, v); err != nil {
		return fmt.Errorf("ledger.Decode: account %s kind %s: %w", a.Address, a.Kind, err)
	}
	return nil
}

// NewProposal starts an empty proposal for the given signer address.
func NewProposal(signer string) *Proposal {
	return &Proposal{
		ClientID: uuid.NewString(),
		Signer:   signer,
	}
}

// Add appends a sub-operation. Params must be JSON-marshalable; the
// builders in this package only pass flat string/integer maps.
func (p *Proposal) Add(kind string, params any) *Proposal {
	raw, err := json.Marshal(params)
	if err != nil {
		// Only reachable with a programming error in the caller.
		panic(fmt.Sprintf("ledger.Add: marshal %s params: %v", kind, err))
	}
	p.Ops = append(p.Ops, Op{Kind: kind, Params: raw})
	return p
}

// Message returns the canonical byte form of the proposal for signing.
// The signature field itself is excluded.
func (p *Proposal) Message() []byte {
	unsigned := Proposal{
		ClientID: p.ClientID,
		Signer:   p.Signer,
		Ops:      p.Ops,
	}
	b, _ := json.Marshal(unsigned)
	return b
}
