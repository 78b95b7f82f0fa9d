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

package ledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"net"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/creditsync/types"
	"github.com/CovenantSQL/creditsync/utils/log"
)

const (
	// DefaultGasLimit is the gas limit of registry calls.
	DefaultGasLimit = 500000
	// DefaultSubmitTimeout bounds the wait for a submitted call to be mined.
	DefaultSubmitTimeout = 3 * time.Minute
	// DefaultHeaderCacheSize is the number of block timestamps kept in memory.
	DefaultHeaderCacheSize = 4096

	liveBufferSize = 128
)

// EthConfig defines the ethereum registry gateway options.
type EthConfig struct {
	Endpoint        string
	ContractAddress common.Address
	PrivateKey      *ecdsa.PrivateKey
	GasLimit        uint64
	SubmitTimeout   time.Duration
	HeaderCacheSize int
}

// EthGateway implements Gateway on the BlueCarbonRegistry contract through an ethereum node.
type EthGateway struct {
	cfg        EthConfig
	rawClient  *rpc.Client
	client     *ethclient.Client
	subClient  *ethclient.Client // separate subscribe client and rpc client for stability
	codec      *Codec
	contract   *bind.BoundContract
	transactor *bind.TransactOpts
	signer     common.Address
	blockTimes *lru.Cache
	submitLock sync.Mutex
}

// DialEth connects to the ethereum node and binds the registry contract.
func DialEth(ctx context.Context, cfg EthConfig) (g *EthGateway, err error) {
	if cfg.PrivateKey == nil {
		err = errors.New("private key is required for registry gateway")
		return
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultGasLimit
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.HeaderCacheSize <= 0 {
		cfg.HeaderCacheSize = DefaultHeaderCacheSize
	}

	g = &EthGateway{
		cfg:        cfg,
		transactor: bind.NewKeyedTransactor(cfg.PrivateKey),
	}
	g.signer = g.transactor.From

	if g.codec, err = NewCodec(); err != nil {
		return
	}
	if g.blockTimes, err = lru.New(cfg.HeaderCacheSize); err != nil {
		return
	}

	if g.rawClient, err = rpc.DialContext(ctx, cfg.Endpoint); err != nil {
		err = errors.Wrapf(ErrGatewayUnavailable, "dial %s: %v", cfg.Endpoint, err)
		return
	}
	g.client = ethclient.NewClient(g.rawClient)

	if g.subClient, err = ethclient.DialContext(ctx, cfg.Endpoint); err != nil {
		g.client.Close()
		err = errors.Wrapf(ErrGatewayUnavailable, "dial subscription %s: %v", cfg.Endpoint, err)
		return
	}

	g.contract = bind.NewBoundContract(cfg.ContractAddress, g.codec.ABI(), g.client, g.client, g.client)

	log.WithFields(log.Fields{
		"endpoint": cfg.Endpoint,
		"contract": cfg.ContractAddress.Hex(),
		"signer":   g.signer.Hex(),
	}).Info("connected to registry ledger")

	return
}

// Codec returns the registry event codec.
func (g *EthGateway) Codec() *Codec {
	return g.codec
}

// Submit implements Gateway.Submit.
func (g *EthGateway) Submit(ctx context.Context, call Call) (r *Receipt, err error) {
	var args []interface{}

	switch c := call.(type) {
	case *IssueCall:
		if !common.IsHexAddress(c.To) {
			err = &SubmissionError{Err: errors.Errorf("invalid recipient address %q", c.To)}
			return
		}
		args = []interface{}{common.HexToAddress(c.To), c.ProjectID, c.Location, c.VerificationID}
	case *RetireCall:
		var id *big.Int
		if id, err = ParseTokenID(c.TokenID); err != nil {
			err = &SubmissionError{Err: err}
			return
		}
		args = []interface{}{id}
	default:
		err = &SubmissionError{Err: ErrUnknownCall}
		return
	}

	tx, err := g.transact(ctx, call.Method(), args...)
	if err != nil {
		err = classifySubmitError(err)
		return
	}

	log.WithFields(log.Fields{
		"method": call.Method(),
		"tx":     tx.Hash().Hex(),
		"nonce":  tx.Nonce(),
	}).Info("registry call submitted")

	waitCtx, cancel := context.WithTimeout(ctx, g.cfg.SubmitTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, g.client, tx)
	if err != nil {
		err = &SubmissionError{Retryable: true, Err: errors.Wrapf(err, "wait tx %s mined", tx.Hash().Hex())}
		return
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		err = &SubmissionError{Err: errors.Wrapf(ErrTxReverted, "tx %s", tx.Hash().Hex())}
		return
	}

	r = &Receipt{
		TxHash: tx.Hash().Hex(),
		From:   g.signer.Hex(),
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != g.cfg.ContractAddress {
			continue
		}
		r.BlockNumber = l.BlockNumber
		r.Notifications = append(r.Notifications, g.logNotification(ctx, ChannelReceipt, *l))
	}

	return
}

func (g *EthGateway) transact(ctx context.Context, method string, args ...interface{}) (*ethtypes.Transaction, error) {
	// serialize pending nonce allocation of the single signer
	g.submitLock.Lock()
	defer g.submitLock.Unlock()

	opts := *g.transactor
	opts.Context = ctx
	opts.GasLimit = g.cfg.GasLimit

	return g.contract.Transact(&opts, method, args...)
}

func classifySubmitError(err error) error {
	cause := errors.Cause(err)
	if cause == context.DeadlineExceeded || cause == context.Canceled {
		return &SubmissionError{Retryable: true, Err: err}
	}
	if _, ok := cause.(net.Error); ok {
		return &SubmissionError{Retryable: true, Err: err}
	}
	// json-rpc error responses are ledger rejections (revert, nonce, funds)
	if _, ok := cause.(rpc.Error); ok {
		return &SubmissionError{Err: err}
	}
	return &SubmissionError{Err: err}
}

// QueryHistorical implements Gateway.QueryHistorical.
func (g *EthGateway) QueryHistorical(ctx context.Context, kind types.EventKind, from, to uint64) (
	notifications []*RawNotification, err error) {
	q := g.filterQuery(kind)
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)

	logs, err := g.client.FilterLogs(ctx, q)
	if err != nil {
		err = errors.Wrapf(ErrGatewayUnavailable, "filter %s logs [%d, %d]: %v", kind, from, to, err)
		return
	}

	notifications = make([]*RawNotification, 0, len(logs))
	for i := range logs {
		l := logs[i]
		n := &RawNotification{
			Kind:        kind,
			Channel:     ChannelHistorical,
			TxHash:      l.TxHash.Hex(),
			BlockNumber: l.BlockNumber,
			LogIndex:    l.Index,
			Removed:     l.Removed,
			BlockTime:   g.blockTime(ctx, l.BlockNumber),
		}
		var decodedKind types.EventKind
		if decodedKind, n.Args, err = g.codec.UnpackLog(&l); err != nil || decodedKind != kind {
			// leave the undecodable log to the normalizer
			n.Args = nil
			n.Log = &l
			err = nil
		}
		notifications = append(notifications, n)
	}

	return
}

// SubscribeLive implements Gateway.SubscribeLive.
func (g *EthGateway) SubscribeLive(ctx context.Context, kind types.EventKind) (s Subscription, err error) {
	logCh := make(chan ethtypes.Log, liveBufferSize)
	sub, err := g.subClient.SubscribeFilterLogs(ctx, g.filterQuery(kind), logCh)
	if err != nil {
		err = errors.Wrapf(ErrGatewayUnavailable, "subscribe %s logs: %v", kind, err)
		return
	}

	ls := &logSubscription{
		notifyCh: make(chan *RawNotification, liveBufferSize),
		errCh:    make(chan error, 1),
		quit:     make(chan struct{}),
		sub:      sub,
	}
	go ls.forward(ctx, g, logCh)

	log.WithField("kind", kind.String()).Info("subscribed to registry logs")
	return ls, nil
}

func (g *EthGateway) filterQuery(kind types.EventKind) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{g.cfg.ContractAddress},
		Topics:    [][]common.Hash{{g.codec.Topic(kind)}},
	}
}

func (g *EthGateway) logNotification(ctx context.Context, ch Channel, l ethtypes.Log) *RawNotification {
	return &RawNotification{
		Kind:        g.codec.KindOf(&l),
		Channel:     ch,
		Log:         &l,
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		Removed:     l.Removed,
		BlockTime:   g.blockTime(ctx, l.BlockNumber),
	}
}

func (g *EthGateway) blockTime(ctx context.Context, number uint64) int64 {
	if v, ok := g.blockTimes.Get(number); ok {
		return v.(int64)
	}

	header, err := g.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil || header == nil || header.Time == nil {
		log.WithError(err).WithField("block", number).Debug("resolve block time failed")
		return 0
	}

	t := header.Time.Int64()
	g.blockTimes.Add(number, t)
	return t
}

// ReadRecord implements Gateway.ReadRecord.
func (g *EthGateway) ReadRecord(ctx context.Context, tokenID string) (v *RecordView, err error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return
	}

	opts := &bind.CallOpts{Context: ctx}

	var c creditTuple
	if err = g.contract.Call(opts, &c, "credits", id); err != nil {
		err = errors.Wrapf(ErrGatewayUnavailable, "read credit %s: %v", tokenID, err)
		return
	}
	if c.IssuedAt == nil || c.IssuedAt.Sign() == 0 {
		err = errors.Wrapf(ErrRecordNotFound, "credit %s", tokenID)
		return
	}

	var owner common.Address
	if err = g.contract.Call(opts, &owner, "ownerOf", id); err != nil {
		err = errors.Wrapf(ErrGatewayUnavailable, "read owner of %s: %v", tokenID, err)
		return
	}

	v = &RecordView{
		TokenID:        id.String(),
		Owner:          owner.Hex(),
		ProjectID:      c.ProjectId,
		Location:       c.Location,
		VerificationID: c.VerificationId,
		IssuedAt:       c.IssuedAt.Int64(),
		Retired:        c.Retired,
	}
	return
}

// HeadBlock implements Gateway.HeadBlock.
func (g *EthGateway) HeadBlock(ctx context.Context) (number uint64, err error) {
	header, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		err = errors.Wrapf(ErrGatewayUnavailable, "fetch head block: %v", err)
		return
	}
	number = header.Number.Uint64()
	return
}

// Status implements Gateway.Status.
func (g *EthGateway) Status(ctx context.Context) (s *Status, err error) {
	s = &Status{
		Contract: g.cfg.ContractAddress.Hex(),
		Signer:   g.signer.Hex(),
	}

	var chainID *big.Int
	if chainID, err = g.client.NetworkID(ctx); err != nil {
		err = errors.Wrapf(ErrGatewayUnavailable, "fetch network id: %v", err)
		return
	}
	s.ChainID = chainID.String()

	if s.HeadBlock, err = g.HeadBlock(ctx); err != nil {
		return
	}

	var balance *big.Int
	if balance, err = g.client.BalanceAt(ctx, g.signer, nil); err != nil {
		err = errors.Wrapf(ErrGatewayUnavailable, "fetch signer balance: %v", err)
		return
	}
	s.SignerBalance = balance.String()

	return
}

// Close implements Gateway.Close.
func (g *EthGateway) Close() {
	if g.subClient != nil {
		g.subClient.Close()
	}
	if g.client != nil {
		g.client.Close()
	}
}

type logSubscription struct {
	notifyCh chan *RawNotification
	errCh    chan error
	quit     chan struct{}
	once     sync.Once
	sub      ethereum.Subscription
}

func (s *logSubscription) forward(ctx context.Context, g *EthGateway, logCh <-chan ethtypes.Log) {
	for {
		select {
		case l := <-logCh:
			n := g.logNotification(ctx, ChannelLive, l)
			select {
			case s.notifyCh <- n:
			case <-s.quit:
				return
			}
		case err := <-s.sub.Err():
			// a nil error means the client was closed under the subscription
			if err == nil {
				err = errors.New("client closed")
			}
			select {
			case s.errCh <- errors.Wrapf(ErrGatewayUnavailable, "subscription dropped: %v", err):
			case <-s.quit:
			}
			return
		case <-s.quit:
			return
		}
	}
}

func (s *logSubscription) Notifications() <-chan *RawNotification {
	return s.notifyCh
}

func (s *logSubscription) Err() <-chan error {
	return s.errCh
}

func (s *logSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.sub.Unsubscribe()
	})
}
