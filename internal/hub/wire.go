package hub

import (
	"time"

	"github.com/dmitrijs2005/hubmirror/internal/models"
)

// Wire DTOs for the hub HTTP API. Field names follow the hub's JSON output;
// message payloads live in per-type body fields under data, only one of which
// is populated.

type wireEvent struct {
	ID      uint64            `json:"id"`
	Type    string            `json:"type"`
	Message *wireMessage      `json:"message,omitempty"`
	Account *wireAccountEvent `json:"accountEvent,omitempty"`
}

type wireEventPage struct {
	Events      []wireEvent `json:"events"`
	NextEventID uint64      `json:"nextEventId"`
}

type wireFidPage struct {
	Fids          []uint64 `json:"fids"`
	NextPageToken string   `json:"nextPageToken"`
}

type wireMessagePage struct {
	Messages      []wireMessage `json:"messages"`
	NextPageToken string        `json:"nextPageToken"`
}

type wireAccountEvent struct {
	Fid             uint64 `json:"fid"`
	Type            string `json:"type"`
	CustodyAddress  string `json:"custodyAddress"`
	RecoveryAddress string `json:"recoveryAddress"`
	Timestamp       int64  `json:"timestamp"`
}

type wireMessage struct {
	Hash string          `json:"hash"`
	Data wireMessageData `json:"data"`
}

type wireMessageData struct {
	Type      string `json:"type"`
	Fid       uint64 `json:"fid"`
	Timestamp int64  `json:"timestamp"`
	Signer    string `json:"signer"`

	CastAddBody            *wireCastAdd      `json:"castAddBody,omitempty"`
	CastRemoveBody         *wireCastRemove   `json:"castRemoveBody,omitempty"`
	ReactionBody           *wireReaction     `json:"reactionBody,omitempty"`
	LinkBody               *wireLink         `json:"linkBody,omitempty"`
	VerificationAddBody    *wireVerification `json:"verificationAddBody,omitempty"`
	VerificationRemoveBody *wireVerification `json:"verificationRemoveBody,omitempty"`
	UserDataBody           *wireUserData     `json:"userDataBody,omitempty"`
	SignerAddBody          *wireSigner       `json:"signerAddBody,omitempty"`
	SignerRemoveBody       *wireSigner       `json:"signerRemoveBody,omitempty"`
}

type wireCastAdd struct {
	Text       string   `json:"text"`
	Mentions   []uint64 `json:"mentions,omitempty"`
	Embeds     []string `json:"embeds,omitempty"`
	ParentFid  uint64   `json:"parentFid,omitempty"`
	ParentHash string   `json:"parentHash,omitempty"`
}

type wireCastRemove struct {
	TargetHash string `json:"targetHash"`
}

type wireReaction struct {
	Type       string `json:"type"`
	TargetHash string `json:"targetHash,omitempty"`
	TargetFid  uint64 `json:"targetFid,omitempty"`
	TargetURL  string `json:"targetUrl,omitempty"`
}

type wireLink struct {
	Type      string `json:"type"`
	TargetFid uint64 `json:"targetFid"`
}

type wireVerification struct {
	Address   string `json:"address"`
	Signature string `json:"ethSignature,omitempty"`
	BlockHash string `json:"blockHash,omitempty"`
}

type wireUserData struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type wireSigner struct {
	Key  string `json:"signer"`
	Name string `json:"name,omitempty"`
}

func decodeEvent(we wireEvent) *Event {
	ev := &Event{ID: we.ID, Category: decodeCategory(we.Type)}
	if we.Message != nil {
		ev.Message = decodeMessage(*we.Message)
	}
	if we.Account != nil {
		ev.Account = &AccountEvent{
			Fid:             we.Account.Fid,
			Type:            decodeAccountEventType(we.Account.Type),
			CustodyAddress:  we.Account.CustodyAddress,
			RecoveryAddress: we.Account.RecoveryAddress,
			Timestamp:       we.Account.Timestamp,
		}
	}
	return ev
}

func decodeCategory(s string) EventCategory {
	switch s {
	case "HUB_EVENT_TYPE_MERGE_MESSAGE":
		return MergeMessage
	case "HUB_EVENT_TYPE_PRUNE_MESSAGE":
		return PruneMessage
	case "HUB_EVENT_TYPE_REVOKE_MESSAGE":
		return RevokeMessage
	case "HUB_EVENT_TYPE_MERGE_ACCOUNT_EVENT":
		return MergeAccountEvent
	default:
		return CategoryUnknown
	}
}

func decodeAccountEventType(s string) AccountEventType {
	switch s {
	case "ACCOUNT_EVENT_TYPE_REGISTER":
		return AccountRegister
	case "ACCOUNT_EVENT_TYPE_TRANSFER":
		return AccountTransfer
	default:
		return AccountEventUnknown
	}
}

// decodeMessage maps a wire message onto the model envelope. Unrecognized
// payload types yield nil; the dispatcher logs and skips those.
func decodeMessage(wm wireMessage) *models.Message {
	body := decodeBody(wm.Data)
	if body == nil {
		return nil
	}
	return &models.Message{
		Hash:      wm.Hash,
		Fid:       wm.Data.Fid,
		Timestamp: time.Unix(wm.Data.Timestamp, 0).UTC(),
		Signer:    wm.Data.Signer,
		Body:      body,
	}
}

func decodeBody(d wireMessageData) models.Body {
	switch d.Type {
	case "MESSAGE_TYPE_CAST_ADD":
		if b := d.CastAddBody; b != nil {
			return models.CastBody{
				Text:       b.Text,
				Mentions:   b.Mentions,
				Embeds:     b.Embeds,
				ParentFid:  b.ParentFid,
				ParentHash: b.ParentHash,
			}
		}
	case "MESSAGE_TYPE_CAST_REMOVE":
		if b := d.CastRemoveBody; b != nil {
			return models.CastRemoveBody{TargetHash: b.TargetHash}
		}
	case "MESSAGE_TYPE_REACTION_ADD":
		if b := d.ReactionBody; b != nil {
			return models.ReactionBody{
				Type:       b.Type,
				TargetHash: b.TargetHash,
				TargetFid:  b.TargetFid,
				TargetURL:  b.TargetURL,
			}
		}
	case "MESSAGE_TYPE_REACTION_REMOVE":
		if b := d.ReactionBody; b != nil {
			return models.ReactionRemoveBody{
				Type:       b.Type,
				TargetHash: b.TargetHash,
				TargetURL:  b.TargetURL,
			}
		}
	case "MESSAGE_TYPE_LINK_ADD":
		if b := d.LinkBody; b != nil {
			return models.LinkBody{Type: b.Type, TargetFid: b.TargetFid}
		}
	case "MESSAGE_TYPE_LINK_REMOVE":
		if b := d.LinkBody; b != nil {
			return models.LinkRemoveBody{Type: b.Type, TargetFid: b.TargetFid}
		}
	case "MESSAGE_TYPE_VERIFICATION_ADD_ETH_ADDRESS":
		if b := d.VerificationAddBody; b != nil {
			return models.VerificationBody{
				Address:   b.Address,
				Signature: b.Signature,
				BlockHash: b.BlockHash,
			}
		}
	case "MESSAGE_TYPE_VERIFICATION_REMOVE":
		if b := d.VerificationRemoveBody; b != nil {
			return models.VerificationRemoveBody{Address: b.Address}
		}
	case "MESSAGE_TYPE_USER_DATA_ADD":
		if b := d.UserDataBody; b != nil {
			return models.UserDataBody{Type: b.Type, Value: b.Value}
		}
	case "MESSAGE_TYPE_SIGNER_ADD":
		if b := d.SignerAddBody; b != nil {
			return models.SignerBody{Key: b.Key, Name: b.Name}
		}
	case "MESSAGE_TYPE_SIGNER_REMOVE":
		if b := d.SignerRemoveBody; b != nil {
			return models.SignerRemoveBody{Key: b.Key}
		}
	}
	return nil
}
