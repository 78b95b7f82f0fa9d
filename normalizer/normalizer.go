/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package normalizer converts raw ledger notifications into canonical credit events.
package normalizer

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/types"
)

// Normalizer decodes both notification envelopes with the registry codec.
type Normalizer struct {
	codec *ledger.Codec
}

// New returns a normalizer using codec for raw log decoding.
func New(codec *ledger.Codec) *Normalizer {
	return &Normalizer{codec: codec}
}

// Normalize produces exactly one canonical event from raw.
func (n *Normalizer) Normalize(raw *ledger.RawNotification) (ev types.Event, err error) {
	if raw == nil {
		return nil, errors.Wrap(ErrMalformedNotification, "nil notification")
	}
	if raw.Removed || (raw.Log != nil && raw.Log.Removed) {
		return nil, errors.Wrapf(ErrRemovedNotification, "tx %s log %d", raw.TxHash, raw.LogIndex)
	}

	var (
		kind = raw.Kind
		args = raw.Args
		pos  = types.Position{
			BlockNumber: raw.BlockNumber,
			LogIndex:    raw.LogIndex,
			TxHash:      raw.TxHash,
			Timestamp:   raw.BlockTime,
		}
	)

	if raw.Log != nil {
		var decoded types.EventKind
		if decoded, args, err = n.codec.UnpackLog(raw.Log); err != nil {
			return nil, errors.Wrapf(ErrMalformedNotification, "decode log: %v", err)
		}
		if kind != types.KindUnknown && kind != decoded {
			return nil, errors.Wrapf(ErrMalformedNotification, "declared %s but log is %s", kind, decoded)
		}
		kind = decoded
		pos.BlockNumber = raw.Log.BlockNumber
		pos.LogIndex = raw.Log.Index
		pos.TxHash = raw.Log.TxHash.Hex()
	} else if args == nil {
		return nil, errors.Wrap(ErrMalformedNotification, "notification carries neither log nor args")
	}

	if pos.TxHash == "" {
		return nil, errors.Wrap(ErrMalformedNotification, "missing transaction hash")
	}

	switch kind {
	case types.KindIssued:
		return issued(args, pos)
	case types.KindRetired:
		return retired(args, pos)
	default:
		return nil, errors.Wrapf(ErrMalformedNotification, "unknown kind %s", kind)
	}
}

func issued(args ledger.Args, pos types.Position) (types.Event, error) {
	var (
		ev  = &types.Issued{Position: pos}
		err error
	)
	if ev.ID, err = tokenID(args, "tokenId"); err != nil {
		return nil, err
	}
	if ev.Owner, err = address(args, "to"); err != nil {
		return nil, err
	}
	if ev.ProjectID, err = text(args, "projectId", true); err != nil {
		return nil, err
	}
	if ev.Location, err = text(args, "location", false); err != nil {
		return nil, err
	}
	if ev.VerificationID, err = text(args, "verificationId", true); err != nil {
		return nil, err
	}
	return ev, nil
}

func retired(args ledger.Args, pos types.Position) (types.Event, error) {
	var (
		ev  = &types.Retired{Position: pos}
		err error
	)
	if ev.ID, err = tokenID(args, "tokenId"); err != nil {
		return nil, err
	}
	if ev.RetiredBy, err = address(args, "retiredBy"); err != nil {
		return nil, err
	}
	return ev, nil
}

func tokenID(args ledger.Args, key string) (string, error) {
	switch v := args[key].(type) {
	case *big.Int:
		if v != nil && v.Sign() >= 0 {
			return v.String(), nil
		}
	case big.Int:
		if v.Sign() >= 0 {
			return v.String(), nil
		}
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case int:
		if v >= 0 {
			return strconv.Itoa(v), nil
		}
	case int64:
		if v >= 0 {
			return strconv.FormatInt(v, 10), nil
		}
	case string:
		if id, err := ledger.ParseTokenID(strings.TrimSpace(v)); err == nil {
			return id.String(), nil
		}
	case nil:
		return "", errors.Wrapf(ErrMalformedNotification, "missing %s", key)
	}
	return "", errors.Wrapf(ErrMalformedNotification, "invalid %s %v", key, args[key])
}

func address(args ledger.Args, key string) (string, error) {
	var addr common.Address

	switch v := args[key].(type) {
	case common.Address:
		addr = v
	case *common.Address:
		if v == nil {
			return "", errors.Wrapf(ErrMalformedNotification, "missing %s", key)
		}
		addr = *v
	case string:
		if !common.IsHexAddress(v) {
			return "", errors.Wrapf(ErrMalformedNotification, "invalid %s %q", key, v)
		}
		addr = common.HexToAddress(v)
	case nil:
		return "", errors.Wrapf(ErrMalformedNotification, "missing %s", key)
	default:
		return "", errors.Wrapf(ErrMalformedNotification, "invalid %s type %T", key, v)
	}

	if addr == (common.Address{}) {
		return "", errors.Wrapf(ErrMalformedNotification, "zero %s", key)
	}
	return addr.Hex(), nil
}

func text(args ledger.Args, key string, required bool) (string, error) {
	switch v := args[key].(type) {
	case string:
		if required && v == "" {
			return "", errors.Wrapf(ErrMalformedNotification, "empty %s", key)
		}
		return v, nil
	case nil:
		if required {
			return "", errors.Wrapf(ErrMalformedNotification, "missing %s", key)
		}
		return "", nil
	default:
		return "", errors.Wrapf(ErrMalformedNotification, "invalid %s type %T", key, v)
	}
}
