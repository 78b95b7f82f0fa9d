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

// Package registry implements the credit registry request surface: issue and retire calls
// submitted to the ledger and mirrored into the projection, and merged credit reads.
package registry

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	validator "gopkg.in/go-playground/validator.v9"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/projection"
	"github.com/CovenantSQL/creditsync/reconcile"
	"github.com/CovenantSQL/creditsync/types"
	"github.com/CovenantSQL/creditsync/utils"
	"github.com/CovenantSQL/creditsync/utils/log"
)

// Store defines the storage needed by the request surface.
type Store interface {
	projection.Store
	projection.ProjectStore
}

type statsStore interface {
	Stats(ctx context.Context) (*projection.Stats, error)
}

// IssueRequest defines a credit issuance request.
type IssueRequest struct {
	ToAddress      string `json:"toAddress" form:"toAddress" validate:"required,ethaddr"`
	ProjectID      string `json:"projectId" form:"projectId" validate:"required,max=128"`
	Location       string `json:"location" form:"location" validate:"max=256"`
	VerificationID string `json:"verificationId" form:"verificationId" validate:"required,max=128"`
}

// IssueResult defines the confirmed issuance.
type IssueResult struct {
	TokenID     string `json:"tokenId"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

// RetireRequest defines a credit retirement request.
type RetireRequest struct {
	TokenID string `json:"tokenId" form:"tokenId" validate:"required,numeric"`
}

// RetireResult defines the confirmed retirement.
type RetireResult struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

// CreditView merges the ledger state and the projected state of a credit.
type CreditView struct {
	TokenID      string             `json:"tokenId"`
	OnChain      *ledger.RecordView `json:"onchain"`
	OffChain     *types.Credit      `json:"offchain"`
	OnChainError string             `json:"onchainError,omitempty"`
	InSync       bool               `json:"inSync"`
}

// StatusView reports the ledger connection and the synchronization position.
type StatusView struct {
	Ledger      *ledger.Status    `json:"ledger,omitempty"`
	LedgerError string            `json:"ledgerError,omitempty"`
	Cursor      uint64            `json:"cursor"`
	CursorSet   bool              `json:"cursorSet"`
	Projection  *projection.Stats `json:"projection,omitempty"`
}

// Service serves requests against the ledger gateway and the projection.
type Service struct {
	apiKey   string
	gateway  ledger.Gateway
	engine   *reconcile.Engine
	store    Store
	validate *validator.Validate
}

// NewService returns the request surface, state-changing calls require apiKey.
func NewService(apiKey string, gateway ledger.Gateway, engine *reconcile.Engine, store Store) *Service {
	return &Service{
		apiKey:   apiKey,
		gateway:  gateway,
		engine:   engine,
		store:    store,
		validate: utils.NewValidator(),
	}
}

// Authorize checks key against the configured api key.
func (s *Service) Authorize(key string) error {
	if s.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		return ErrForbidden
	}
	return nil
}

func (s *Service) check(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		return errors.Wrapf(ErrInvalidRequest, "%v", err)
	}
	return nil
}

// Issue submits a credit issuance and mirrors the confirmed events into the projection.
func (s *Service) Issue(ctx context.Context, key string, req *IssueRequest) (r *IssueResult, err error) {
	if err = s.Authorize(key); err != nil {
		return
	}
	if req == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "empty request")
	}
	if err = s.check(req); err != nil {
		return
	}

	receipt, err := s.gateway.Submit(ctx, &ledger.IssueCall{
		To:             common.HexToAddress(req.ToAddress).Hex(),
		ProjectID:      req.ProjectID,
		Location:       req.Location,
		VerificationID: req.VerificationID,
	})
	if err != nil {
		log.WithError(err).WithField("project", req.ProjectID).Warning("issue credit failed")
		return
	}

	r = &IssueResult{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
	}

	for _, ev := range s.mirror(ctx, receipt) {
		if issued, ok := ev.(*types.Issued); ok && r.TokenID == "" {
			r.TokenID = issued.ID
		}
	}
	if r.TokenID == "" {
		log.WithField("tx", receipt.TxHash).Warning("issuance receipt carries no credit event")
	}

	log.WithFields(log.Fields{
		"id":      r.TokenID,
		"tx":      r.TxHash,
		"project": req.ProjectID,
	}).Info("credit issued")

	return
}

// Retire submits a credit retirement and mirrors it into the projection.
func (s *Service) Retire(ctx context.Context, key string, req *RetireRequest) (r *RetireResult, err error) {
	if err = s.Authorize(key); err != nil {
		return
	}
	if req == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "empty request")
	}
	if err = s.check(req); err != nil {
		return
	}
	id, err := ledger.ParseTokenID(strings.TrimSpace(req.TokenID))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "token id %q", req.TokenID)
	}

	receipt, err := s.gateway.Submit(ctx, &ledger.RetireCall{TokenID: id.String()})
	if err != nil {
		log.WithError(err).WithField("id", id.String()).Warning("retire credit failed")
		return
	}

	r = &RetireResult{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
	}

	mirrored := false
	for _, ev := range s.mirror(ctx, receipt) {
		if ev.Kind() == types.KindRetired && ev.TokenID() == id.String() {
			mirrored = true
		}
	}
	if !mirrored {
		// the receipt is authoritative even without a decodable retirement log
		s.applyMirror(ctx, &types.Retired{
			ID:        id.String(),
			RetiredBy: receipt.From,
			Position: types.Position{
				BlockNumber: receipt.BlockNumber,
				TxHash:      receipt.TxHash,
			},
		})
	}

	log.WithFields(log.Fields{"id": id.String(), "tx": r.TxHash}).Info("credit retired")
	return
}

// mirror applies the receipt notifications, failures are logged and left to the sync loops.
func (s *Service) mirror(ctx context.Context, receipt *ledger.Receipt) (events []types.Event) {
	for _, n := range receipt.Notifications {
		ev, err := s.engine.Normalizer().Normalize(n)
		if err != nil {
			log.WithError(err).WithField("tx", receipt.TxHash).Warning("normalize receipt notification failed")
			continue
		}
		s.applyMirror(ctx, ev)
		events = append(events, ev)
	}
	return
}

func (s *Service) applyMirror(ctx context.Context, ev types.Event) {
	if err := s.engine.ApplyEvent(ctx, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"id": ev.TokenID(),
			"tx": ev.At().TxHash,
		}).Warning("mirror confirmed event failed, left to synchronization")
	}
}

// Get returns the ledger and projected state of a credit.
func (s *Service) Get(ctx context.Context, tokenID string) (v *CreditView, err error) {
	id, err := ledger.ParseTokenID(strings.TrimSpace(tokenID))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "token id %q", tokenID)
	}
	v = &CreditView{TokenID: id.String()}

	v.OnChain, err = s.gateway.ReadRecord(ctx, v.TokenID)
	if err != nil {
		if errors.Cause(err) != ledger.ErrRecordNotFound {
			log.WithError(err).WithField("id", v.TokenID).Warning("read ledger record failed")
		}
		v.OnChainError = err.Error()
		v.OnChain = nil
	}

	v.OffChain, err = s.store.Get(ctx, v.TokenID)
	if err != nil && errors.Cause(err) != projection.ErrNotFound {
		return nil, err
	}
	err = nil

	if v.OnChain == nil && v.OffChain == nil {
		return nil, errors.Wrapf(ErrNotFound, "credit %s", v.TokenID)
	}

	v.InSync = inSync(v.OnChain, v.OffChain)
	return
}

func inSync(on *ledger.RecordView, off *types.Credit) bool {
	if on == nil || off == nil {
		return false
	}
	return on.Retired == off.Retired &&
		strings.EqualFold(on.Owner, off.Owner) &&
		on.ProjectID == off.ProjectID &&
		on.VerificationID == off.VerificationID
}

// RegisterProject stores the off-chain project metadata.
func (s *Service) RegisterProject(ctx context.Context, key string, p *types.Project) (err error) {
	if err = s.Authorize(key); err != nil {
		return
	}
	if p == nil {
		return errors.Wrap(ErrInvalidRequest, "empty project")
	}
	if err = s.check(p); err != nil {
		return
	}
	if err = s.store.AddProject(ctx, p); err != nil {
		if errors.Cause(err) == projection.ErrProjectExists {
			return errors.Wrapf(ErrInvalidRequest, "project %s already exists", p.ProjectID)
		}
		return
	}
	log.WithField("project", p.ProjectID).Info("project registered")
	return
}

// GetProject returns the project metadata.
func (s *Service) GetProject(ctx context.Context, projectID string) (p *types.Project, err error) {
	p, err = s.store.GetProject(ctx, projectID)
	if errors.Cause(err) == projection.ErrNotFound {
		err = errors.Wrapf(ErrNotFound, "project %s", projectID)
	}
	return
}

// Status returns the ledger connection state and the synchronization position.
func (s *Service) Status(ctx context.Context) (st *StatusView, err error) {
	st = &StatusView{}

	if st.Ledger, err = s.gateway.Status(ctx); err != nil {
		st.LedgerError = err.Error()
		err = nil
	}

	if st.Cursor, st.CursorSet, err = s.engine.Cursor(ctx); err != nil {
		return nil, err
	}

	if ss, ok := s.store.(statsStore); ok {
		if st.Projection, err = ss.Stats(ctx); err != nil {
			return nil, err
		}
	}

	return
}
