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


package main

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/creditsync/api"
	"github.com/CovenantSQL/creditsync/conf"
	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/normalizer"
	"github.com/CovenantSQL/creditsync/projection"
	"github.com/CovenantSQL/creditsync/reconcile"
	"github.com/CovenantSQL/creditsync/registry"
	"github.com/CovenantSQL/creditsync/utils/log"
)

type daemon struct {
	gateway *ledger.EthGateway
	store   *projection.SQLStore
	syncer  *reconcile.Syncer
	server  *http.Server
}

func initDaemon(ctx context.Context, cfg *conf.Config) (d *daemon, err error) {
	d = &daemon{}

	key, err := cfg.Ledger.LoadPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "load signing key failed")
	}

	if d.gateway, err = ledger.DialEth(ctx, cfg.Ledger.EthConfig(key)); err != nil {
		return nil, errors.Wrap(err, "connect ledger failed")
	}

	if d.store, err = projection.Open(cfg.Storage.Database); err != nil {
		d.gateway.Close()
		return nil, errors.Wrap(err, "open projection failed")
	}

	engine, err := reconcile.NewEngine(
		cfg.Sync.ReconcileConfig(), d.store, d.gateway, normalizer.New(d.gateway.Codec()))
	if err != nil {
		d.stop()
		return nil, err
	}

	d.syncer = reconcile.NewSyncer(engine)
	svc := registry.NewService(cfg.APIKey, d.gateway, engine, d.store)
	d.server = api.NewServer(cfg.ListenAddr, svc, d.syncer)

	return
}

// stop waits for the sync loops before releasing the ledger and the database.
func (d *daemon) stop() {
	if d.syncer != nil {
		d.syncer.Stop()
	}
	d.gateway.Close()
	if err := d.store.Close(); err != nil {
		log.WithError(err).Warning("close projection failed")
	}
}
