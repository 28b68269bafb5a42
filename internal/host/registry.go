package host

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/nametransfer/internal/nametransfer"
	"github.com/danmuck/nametransfer/internal/observability"
	"github.com/rs/zerolog/log"
)

type collection struct {
	minter string
	owners map[string]string
}

func (c *collection) clone() *collection {
	owners := make(map[string]string, len(c.owners))
	for k, v := range c.owners {
		owners[k] = v
	}
	return &collection{minter: c.minter, owners: owners}
}

// Token is one name token as seen through a query.
type Token struct {
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`
	Owner    string `json:"owner"`
}

// Registry is the chain's set of name token collections keyed by contract
// address. A collection has one minter; only the current owner may move or
// burn a token.
type Registry struct {
	chainID string

	mu          sync.RWMutex
	collections map[string]*collection
}

func NewRegistry(chainID string) *Registry {
	return &Registry{
		chainID:     chainID,
		collections: make(map[string]*collection),
	}
}

func (r *Registry) CreateCollection(contract, minter string) error {
	contract = strings.TrimSpace(contract)
	minter = strings.TrimSpace(minter)
	if contract == "" || minter == "" {
		return fmt.Errorf("%w: collection needs contract and minter", ErrInvalidRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.collections[contract]; ok {
		return fmt.Errorf("%w: %s", ErrCollectionExists, contract)
	}
	r.collections[contract] = &collection{minter: minter, owners: make(map[string]string)}
	return nil
}

func (r *Registry) Mint(sender, contract, tokenID, owner string) error {
	return r.Execute(sender, []nametransfer.Instruction{nametransfer.Mint(contract, tokenID, owner)})
}

func (r *Registry) Transfer(sender, contract, tokenID, recipient string) error {
	return r.Execute(sender, []nametransfer.Instruction{nametransfer.Transfer(contract, tokenID, recipient)})
}

func (r *Registry) Burn(sender, contract, tokenID string) error {
	return r.Execute(sender, []nametransfer.Instruction{nametransfer.Burn(contract, tokenID)})
}

// Execute applies instructions in order on behalf of sender. Either all of
// them take effect or none do.
func (r *Registry) Execute(sender string, instrs []nametransfer.Instruction) error {
	if len(instrs) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	touched := make(map[string]*collection)
	for i, in := range instrs {
		if err := r.apply(sender, in, touched); err != nil {
			observability.RecordInstruction(r.chainID, string(in.Op), false)
			log.Debug().
				Err(err).
				Str("chain", r.chainID).
				Int("index", i).
				Str("op", string(in.Op)).
				Str("contract", in.Contract).
				Str("token_id", in.TokenID).
				Msg("host.Registry.Execute rolled back")
			return fmt.Errorf("instruction %d (%s %s/%s): %w", i, in.Op, in.Contract, in.TokenID, err)
		}
	}
	for contract, staged := range touched {
		r.collections[contract] = staged
	}
	for _, in := range instrs {
		observability.RecordInstruction(r.chainID, string(in.Op), true)
	}
	return nil
}

// apply works on copy-on-write clones held in touched so a failure leaves
// the committed collections untouched.
func (r *Registry) apply(sender string, in nametransfer.Instruction, touched map[string]*collection) error {
	coll, ok := touched[in.Contract]
	if !ok {
		committed, exists := r.collections[in.Contract]
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownCollection, in.Contract)
		}
		coll = committed.clone()
		touched[in.Contract] = coll
	}
	switch in.Op {
	case nametransfer.OpMint:
		if sender != coll.minter {
			return fmt.Errorf("%w: %s is not the minter", ErrUnauthorized, sender)
		}
		if strings.TrimSpace(in.Owner) == "" {
			return fmt.Errorf("%w: mint needs an owner", ErrInvalidRequest)
		}
		if _, exists := coll.owners[in.TokenID]; exists {
			return ErrTokenExists
		}
		coll.owners[in.TokenID] = in.Owner
	case nametransfer.OpTransfer:
		owner, exists := coll.owners[in.TokenID]
		if !exists {
			return ErrTokenNotFound
		}
		if owner != sender {
			return fmt.Errorf("%w: %s does not own token", ErrUnauthorized, sender)
		}
		if strings.TrimSpace(in.Recipient) == "" {
			return fmt.Errorf("%w: transfer needs a recipient", ErrInvalidRequest)
		}
		coll.owners[in.TokenID] = in.Recipient
	case nametransfer.OpBurn:
		owner, exists := coll.owners[in.TokenID]
		if !exists {
			return ErrTokenNotFound
		}
		if owner != sender {
			return fmt.Errorf("%w: %s does not own token", ErrUnauthorized, sender)
		}
		delete(coll.owners, in.TokenID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, in.Op)
	}
	return nil
}

func (r *Registry) OwnerOf(contract, tokenID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	coll, ok := r.collections[contract]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCollection, contract)
	}
	owner, ok := coll.owners[tokenID]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrTokenNotFound, contract, tokenID)
	}
	return owner, nil
}

// Tokens lists a collection ordered by token id.
func (r *Registry) Tokens(contract string) ([]Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	coll, ok := r.collections[contract]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, contract)
	}
	out := make([]Token, 0, len(coll.owners))
	for id, owner := range coll.owners {
		out = append(out, Token{Contract: contract, TokenID: id, Owner: owner})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TokenID < out[j].TokenID
	})
	return out, nil
}

func (r *Registry) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.collections))
	for contract := range r.collections {
		out = append(out, contract)
	}
	sort.Strings(out)
	return out
}
