package types

import "github.com/ethereum/go-ethereum/rlp"

// eventKind tags a BlockEvent's concrete type for storage, since RLP alone
// can't distinguish members of the BlockEvent union.
type eventKind uint8

const (
	eventBlockReward eventKind = iota
	eventFeesCollected
	eventTokenCreated
	eventTokenUpdated
	eventTokenMinted
	eventTokenBurned
	eventTokenSupplyUpdated
	eventAuthorityAdded
	eventAuthorityRemoved
	eventNetworkParamsChanged
	eventAddressAliasAdded
	eventAddressAliasRemoved
	eventBipStateCreated
	eventBipStateUpdated
)

type rlpBlockReward struct {
	Coinbase  Address
	Actual    []byte
	Requested []byte
	Minted    []byte
}
type rlpFeesCollected struct {
	Coinbase Address
	Total    []byte
}
type rlpTokenMinted struct {
	Address   Address
	Recipient Address
	Amount    []byte
}
type rlpTokenBurned struct {
	Address   Address
	Owner     Address
	Requested []byte
	Actual    []byte
}
type rlpTokenSupplyUpdated struct {
	Address     Address
	TotalSupply []byte
}

// EncodeEvent serializes a single BlockEvent with its kind tag.
func EncodeEvent(e BlockEvent) ([]byte, error) {
	var kind eventKind
	var payload any

	switch v := e.(type) {
	case BlockReward:
		kind = eventBlockReward
		payload = rlpBlockReward{Coinbase: v.Coinbase, Actual: weiToBytes(v.Actual), Requested: weiToBytes(v.Requested), Minted: weiToBytes(v.Minted)}
	case FeesCollected:
		kind = eventFeesCollected
		payload = rlpFeesCollected{Coinbase: v.Coinbase, Total: weiToBytes(v.Total)}
	case TokenCreated:
		kind = eventTokenCreated
		payload = v
	case TokenUpdated:
		kind = eventTokenUpdated
		payload = v
	case TokenMinted:
		kind = eventTokenMinted
		payload = rlpTokenMinted{Address: v.Address, Recipient: v.Recipient, Amount: weiToBytes(v.Amount)}
	case TokenBurned:
		kind = eventTokenBurned
		payload = rlpTokenBurned{Address: v.Address, Owner: v.Owner, Requested: weiToBytes(v.Requested), Actual: weiToBytes(v.Actual)}
	case TokenSupplyUpdated:
		kind = eventTokenSupplyUpdated
		payload = rlpTokenSupplyUpdated{Address: v.Address, TotalSupply: weiToBytes(v.TotalSupply)}
	case AuthorityAdded:
		kind = eventAuthorityAdded
		payload = v
	case AuthorityRemoved:
		kind = eventAuthorityRemoved
		payload = v
	case NetworkParamsChanged:
		kind = eventNetworkParamsChanged
		payload = v
	case AddressAliasAdded:
		kind = eventAddressAliasAdded
		payload = v
	case AddressAliasRemoved:
		kind = eventAddressAliasRemoved
		payload = v
	case BipStateCreated:
		kind = eventBipStateCreated
		payload = v
	case BipStateUpdated:
		kind = eventBipStateUpdated
		payload = v
	default:
		return nil, errUnknownEventType
	}

	body, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(struct {
		Kind uint8
		Body []byte
	}{uint8(kind), body})
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(b []byte) (BlockEvent, error) {
	var envelope struct {
		Kind uint8
		Body []byte
	}
	if err := rlp.DecodeBytes(b, &envelope); err != nil {
		return nil, err
	}

	switch eventKind(envelope.Kind) {
	case eventBlockReward:
		var w rlpBlockReward
		if err := rlp.DecodeBytes(envelope.Body, &w); err != nil {
			return nil, err
		}
		return BlockReward{Coinbase: w.Coinbase, Actual: weiFromBytesPayload(w.Actual), Requested: weiFromBytesPayload(w.Requested), Minted: weiFromBytesPayload(w.Minted)}, nil
	case eventFeesCollected:
		var w rlpFeesCollected
		if err := rlp.DecodeBytes(envelope.Body, &w); err != nil {
			return nil, err
		}
		return FeesCollected{Coinbase: w.Coinbase, Total: weiFromBytesPayload(w.Total)}, nil
	case eventTokenCreated:
		var v TokenCreated
		err := rlp.DecodeBytes(envelope.Body, &v)
		return v, err
	case eventTokenUpdated:
		var v TokenUpdated
		err := rlp.DecodeBytes(envelope.Body, &v)
		return v, err
	case eventTokenMinted:
		var w rlpTokenMinted
		if err := rlp.DecodeBytes(envelope.Body, &w); err != nil {
			return nil, err
		}
		return TokenMinted{Address: w.Address, Recipient: w.Recipient, Amount: weiFromBytesPayload(w.Amount)}, nil
	case eventTokenBurned:
		var w rlpTokenBurned
		if err := rlp.DecodeBytes(envelope.Body, &w); err != nil {
			return nil, err
		}
		return TokenBurned{Address: w.Address, Owner: w.Owner, Requested: weiFromBytesPayload(w.Requested), Actual: weiFromBytesPayload(w.Actual)}, nil
	case eventTokenSupplyUpdated:
		var w rlpTokenSupplyUpdated
		if err := rlp.DecodeBytes(envelope.Body, &w); err != nil {
			return nil, err
		}
		return TokenSupplyUpdated{Address: w.Address, TotalSupply: weiFromBytesPayload(w.TotalSupply)}, nil
	case eventAuthorityAdded:
		var v AuthorityAdded
		err := rlp.DecodeBytes(envelope.Body, &v)
		return v, err
	case eventAuthorityRemoved:
		var v AuthorityRemoved
		err := rlp.DecodeBytes(envelope.Body, &v)
		return v, err
	case eventNetworkParamsChanged:
		return NetworkParamsChanged{}, nil
	case eventAddressAliasAdded:
		var v AddressAliasAdded
		err := rlp.DecodeBytes(envelope.Body, &v)
		return v, err
	case eventAddressAliasRemoved:
		var v AddressAliasRemoved
		err := rlp.DecodeBytes(envelope.Body, &v)
		return v, err
	case eventBipStateCreated:
		var v BipStateCreated
		err := rlp.DecodeBytes(envelope.Body, &v)
		return v, err
	case eventBipStateUpdated:
		var v BipStateUpdated
		err := rlp.DecodeBytes(envelope.Body, &v)
		return v, err
	default:
		return nil, errUnknownEventType
	}
}

var errUnknownEventType = eventTypeError{}

type eventTypeError struct{}

func (eventTypeError) Error() string { return "types: unknown block event kind" }
