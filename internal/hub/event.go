package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Hub event classes.
const (
	hubEventMergeMessage  int32 = 1
	hubEventPruneMessage  int32 = 2
	hubEventRevokeMessage int32 = 3
)

var hubEventTypeNames = map[string]int32{
	"HUB_EVENT_TYPE_MERGE_MESSAGE":        1,
	"HUB_EVENT_TYPE_PRUNE_MESSAGE":        2,
	"HUB_EVENT_TYPE_REVOKE_MESSAGE":       3,
	"HUB_EVENT_TYPE_MERGE_USERNAME_PROOF": 6,
	"HUB_EVENT_TYPE_MERGE_ON_CHAIN_EVENT": 9,
}

var messageTypeNames = map[string]int32{
	"MESSAGE_TYPE_CAST_ADD":                     1,
	"MESSAGE_TYPE_CAST_REMOVE":                  2,
	"MESSAGE_TYPE_REACTION_ADD":                 3,
	"MESSAGE_TYPE_REACTION_REMOVE":              4,
	"MESSAGE_TYPE_LINK_ADD":                     5,
	"MESSAGE_TYPE_LINK_REMOVE":                  6,
	"MESSAGE_TYPE_VERIFICATION_ADD_ETH_ADDRESS": 7,
	"MESSAGE_TYPE_VERIFICATION_REMOVE":          8,
	"MESSAGE_TYPE_USER_DATA_ADD":                11,
	"MESSAGE_TYPE_USERNAME_PROOF":               12,
	"MESSAGE_TYPE_FRAME_ACTION":                 13,
	"MESSAGE_TYPE_LINK_COMPACT_STATE":           14,
}

var reactionTypeNames = map[string]int32{
	"REACTION_TYPE_LIKE":   1,
	"REACTION_TYPE_RECAST": 2,
}

var userDataTypeNames = map[string]int32{
	"USER_DATA_TYPE_PFP":      1,
	"USER_DATA_TYPE_DISPLAY":  2,
	"USER_DATA_TYPE_BIO":      3,
	"USER_DATA_TYPE_URL":      5,
	"USER_DATA_TYPE_USERNAME": 6,
	"USER_DATA_TYPE_LOCATION": 7,
	"USER_DATA_TYPE_TWITTER":  8,
	"USER_DATA_TYPE_GITHUB":   9,
}

// enumValue is a protobuf enum as rendered in hub JSON: either the numeric
// code or the enum name. Names missing from the table keep Code 0 and are
// preserved in Token.
type enumValue struct {
	Code  int32
	Token string
	Set   bool
}

func (v *enumValue) decode(data []byte, names map[string]int32) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	v.Set = true
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v.Token = s
		if code, ok := names[s]; ok {
			v.Code = code
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 32); err == nil {
			v.Code = int32(n)
		}
		return nil
	}
	var n int32
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("enum value %s: %w", data, err)
	}
	v.Code = n
	v.Token = strconv.FormatInt(int64(n), 10)
	return nil
}

type hubEventType struct{ enumValue }

func (v *hubEventType) UnmarshalJSON(b []byte) error { return v.decode(b, hubEventTypeNames) }

type messageType struct{ enumValue }

func (v *messageType) UnmarshalJSON(b []byte) error { return v.decode(b, messageTypeNames) }

type reactionType struct{ enumValue }

func (v *reactionType) UnmarshalJSON(b []byte) error { return v.decode(b, reactionTypeNames) }

type userDataType struct{ enumValue }

func (v *userDataType) UnmarshalJSON(b []byte) error { return v.decode(b, userDataTypeNames) }

// hubEvent is the raw JSON structure of a hub event.
type hubEvent struct {
	ID                uint64             `json:"id"`
	Type              hubEventType       `json:"type"`
	MergeMessageBody  *mergeMessageBody  `json:"mergeMessageBody,omitempty"`
	PruneMessageBody  *singleMessageBody `json:"pruneMessageBody,omitempty"`
	RevokeMessageBody *singleMessageBody `json:"revokeMessageBody,omitempty"`
}

type mergeMessageBody struct {
	Message         *message  `json:"message"`
	DeletedMessages []message `json:"deletedMessages,omitempty"`
}

type singleMessageBody struct {
	Message *message `json:"message"`
}

type message struct {
	Data *messageData `json:"data"`
	Hash string       `json:"hash"`
}

type messageData struct {
	Type      messageType `json:"type"`
	FID       uint64      `json:"fid"`
	Timestamp uint64      `json:"timestamp"`
	Network   string      `json:"network,omitempty"`

	CastAddBody                   *castAddBody            `json:"castAddBody,omitempty"`
	CastRemoveBody                *castRemoveBody         `json:"castRemoveBody,omitempty"`
	ReactionBody                  *reactionBody           `json:"reactionBody,omitempty"`
	LinkBody                      *linkBody               `json:"linkBody,omitempty"`
	VerificationAddAddressBody    *verificationAddBody    `json:"verificationAddAddressBody,omitempty"`
	VerificationAddEthAddressBody *verificationAddBody    `json:"verificationAddEthAddressBody,omitempty"`
	VerificationRemoveBody        *verificationRemoveBody `json:"verificationRemoveBody,omitempty"`
	UserDataBody                  *userDataBody           `json:"userDataBody,omitempty"`
	UsernameProofBody             *usernameProofBody      `json:"usernameProofBody,omitempty"`
}

// castID references a cast by author and hash.
type castID struct {
	FID  uint64 `json:"fid"`
	Hash string `json:"hash"`
}

type castAddBody struct {
	Text              string   `json:"text"`
	Mentions          []uint64 `json:"mentions"`
	MentionsPositions []int    `json:"mentionsPositions"`
	ParentCastID      *castID  `json:"parentCastId,omitempty"`
	ParentURL         *string  `json:"parentUrl,omitempty"`
	Embeds            []embed  `json:"embeds,omitempty"`
}

type embed struct {
	URL    string  `json:"url,omitempty"`
	CastID *castID `json:"castId,omitempty"`
}

type castRemoveBody struct {
	TargetHash string `json:"targetHash"`
}

type reactionBody struct {
	Type         reactionType `json:"type"`
	TargetCastID *castID      `json:"targetCastId,omitempty"`
	TargetURL    string       `json:"targetUrl,omitempty"`
}

type linkBody struct {
	Type      string `json:"type"`
	TargetFID uint64 `json:"targetFid"`
}

type verificationAddBody struct {
	Address   string `json:"address"`
	BlockHash string `json:"blockHash"`
}

type verificationRemoveBody struct {
	Address string `json:"address"`
}

type userDataBody struct {
	Type  userDataType `json:"type"`
	Value string       `json:"value"`
}

type usernameProofBody struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
	FID   uint64 `json:"fid"`
}
