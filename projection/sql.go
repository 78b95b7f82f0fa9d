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

package projection

import (
	"context"
	"database/sql"
	"hash/fnv"
	"strings"
	"sync"

	// register sqlite3 driver
	_ "github.com/CovenantSQL/go-sqlite3-encrypt"
	// register postgres driver
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/xo/dburl"
	gorp "gopkg.in/gorp.v2"

	"github.com/CovenantSQL/creditsync/types"
	"github.com/CovenantSQL/creditsync/utils/log"
)

const (
	creditTable  = "credit"
	cursorTable  = "sync_cursor"
	projectTable = "project"

	lockStripes = 64
)

// SQLStore implements Store and ProjectStore with gorp over sqlite3 or postgres.
type SQLStore struct {
	db     *gorp.DbMap
	driver string

	locks      [lockStripes]sync.Mutex
	cursorLock sync.Mutex
}

// Open opens the projection database described by dsn.
//
// An empty dsn or ":memory:" opens a private in-memory sqlite3 database, a url with scheme
// (sqlite3:, file:, postgres://) is resolved by dburl, anything else is a sqlite3 file path.
func Open(dsn string) (s *SQLStore, err error) {
	driver, source, err := resolve(dsn)
	if err != nil {
		return
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		err = errors.Wrapf(err, "open %s projection database failed", driver)
		return
	}

	s = &SQLStore{driver: driver}

	switch driver {
	case "sqlite3":
		// single writer, also keeps a memory database alive on one connection
		db.SetMaxOpenConns(1)
		s.db = &gorp.DbMap{Db: db, Dialect: gorp.SqliteDialect{}}
	case "postgres":
		s.db = &gorp.DbMap{Db: db, Dialect: gorp.PostgresDialect{}}
	}

	s.db.AddTableWithName(types.Credit{}, creditTable).SetKeys(false, "ID")
	s.db.AddTableWithName(types.SyncCursor{}, cursorTable).SetKeys(false, "Name")
	s.db.AddTableWithName(types.Project{}, projectTable).SetKeys(false, "ProjectID")

	if err = s.db.CreateTablesIfNotExists(); err != nil {
		_ = db.Close()
		err = errors.Wrap(err, "create projection tables failed")
		return
	}

	log.WithFields(log.Fields{
		"driver": driver,
		"source": redact(dsn),
	}).Info("projection database opened")

	return
}

func resolve(dsn string) (driver string, source string, err error) {
	if dsn == "" || dsn == ":memory:" {
		return "sqlite3", ":memory:", nil
	}
	if !strings.Contains(dsn, ":") {
		return "sqlite3", dsn, nil
	}

	u, err := dburl.Parse(dsn)
	if err != nil {
		err = errors.Wrapf(ErrUnsupportedDatabase, "parse %q: %v", redact(dsn), err)
		return
	}

	switch u.Driver {
	case "sqlite3", "postgres":
		return u.Driver, u.DSN, nil
	default:
		err = errors.Wrapf(ErrUnsupportedDatabase, "driver %s", u.Driver)
		return
	}
}

func redact(dsn string) string {
	u, err := dburl.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if p, ok := u.User.Password(); ok && p != "" {
		return strings.Replace(dsn, ":"+p+"@", ":***@", 1)
	}
	return dsn
}

func (s *SQLStore) lockOf(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

// Merge implements Store.Merge.
func (s *SQLStore) Merge(ctx context.Context, id string, fn MergeFunc) (c *types.Credit, err error) {
	if err = ctx.Err(); err != nil {
		return
	}

	l := s.lockOf(id)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		err = errors.Wrap(err, "begin merge transaction failed")
		return
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		cur    types.Credit
		exists = true
	)
	err = tx.SelectOne(&cur, `SELECT * FROM "credit" WHERE "id" = :id`, map[string]interface{}{"id": id})
	if err == sql.ErrNoRows {
		exists = false
		cur = types.Credit{ID: id}
	} else if err != nil {
		err = errors.Wrapf(err, "read credit %s failed", id)
		return
	}
	err = nil

	if !fn(&cur, exists) {
		_ = tx.Rollback()
		return cur.Clone(), nil
	}
	cur.ID = id

	if exists {
		_, err = tx.Update(&cur)
	} else {
		err = tx.Insert(&cur)
	}
	if err != nil {
		err = errors.Wrapf(err, "write credit %s failed", id)
		return
	}

	if err = tx.Commit(); err != nil {
		err = errors.Wrapf(err, "commit credit %s failed", id)
		return
	}

	return cur.Clone(), nil
}

// Get implements Store.Get.
func (s *SQLStore) Get(ctx context.Context, id string) (c *types.Credit, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	c = &types.Credit{}
	err = s.db.SelectOne(c, `SELECT * FROM "credit" WHERE "id" = :id`, map[string]interface{}{"id": id})
	if err == sql.ErrNoRows {
		c, err = nil, errors.Wrapf(ErrNotFound, "credit %s", id)
	} else if err != nil {
		c, err = nil, errors.Wrapf(err, "get credit %s failed", id)
	}
	return
}

// Cursor implements Store.Cursor.
func (s *SQLStore) Cursor(ctx context.Context, name string) (block uint64, ok bool, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	var cursor types.SyncCursor
	err = s.db.SelectOne(&cursor, `SELECT * FROM "sync_cursor" WHERE "name" = :name`,
		map[string]interface{}{"name": name})
	if err == sql.ErrNoRows {
		return 0, false, nil
	} else if err != nil {
		err = errors.Wrapf(err, "read cursor %s failed", name)
		return
	}
	return cursor.Block, true, nil
}

// AdvanceCursor implements Store.AdvanceCursor.
func (s *SQLStore) AdvanceCursor(ctx context.Context, name string, block uint64) (current uint64, err error) {
	if err = ctx.Err(); err != nil {
		return
	}

	s.cursorLock.Lock()
	defer s.cursorLock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		err = errors.Wrap(err, "begin cursor transaction failed")
		return
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var cursor types.SyncCursor
	err = tx.SelectOne(&cursor, `SELECT * FROM "sync_cursor" WHERE "name" = :name`,
		map[string]interface{}{"name": name})
	switch {
	case err == sql.ErrNoRows:
		cursor = types.SyncCursor{Name: name, Block: block}
		err = tx.Insert(&cursor)
	case err != nil:
	case cursor.Block >= block:
		// never moves backwards
		_ = tx.Rollback()
		return cursor.Block, nil
	default:
		cursor.Block = block
		_, err = tx.Update(&cursor)
	}
	if err != nil {
		err = errors.Wrapf(err, "advance cursor %s to %d failed", name, block)
		return
	}

	if err = tx.Commit(); err != nil {
		err = errors.Wrapf(err, "commit cursor %s failed", name)
		return
	}

	return cursor.Block, nil
}

// MaxBlock implements Store.MaxBlock.
func (s *SQLStore) MaxBlock(ctx context.Context) (block uint64, ok bool, err error) {
	var issued, retired, count int64
	err = s.db.Db.QueryRowContext(ctx, `SELECT COALESCE(MAX("source_block_number"), 0), `+
		`COALESCE(MAX("retire_block_number"), 0), COUNT(1) FROM "credit"`).Scan(&issued, &retired, &count)
	if err != nil {
		err = errors.Wrap(err, "derive max credit block failed")
		return
	}
	if count == 0 {
		return 0, false, nil
	}
	if retired > issued {
		issued = retired
	}
	return uint64(issued), true, nil
}

// AddProject implements ProjectStore.AddProject.
func (s *SQLStore) AddProject(ctx context.Context, p *types.Project) (err error) {
	if err = ctx.Err(); err != nil {
		return
	}

	l := s.lockOf("project:" + p.ProjectID)
	l.Lock()
	defer l.Unlock()

	count, err := s.db.SelectInt(`SELECT COUNT(1) FROM "project" WHERE "project_id" = :id`,
		map[string]interface{}{"id": p.ProjectID})
	if err != nil {
		return errors.Wrapf(err, "check project %s failed", p.ProjectID)
	}
	if count > 0 {
		return errors.Wrapf(ErrProjectExists, "project %s", p.ProjectID)
	}

	if err = s.db.Insert(p); err != nil {
		err = errors.Wrapf(err, "add project %s failed", p.ProjectID)
	}
	return
}

// GetProject implements ProjectStore.GetProject.
func (s *SQLStore) GetProject(ctx context.Context, projectID string) (p *types.Project, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	p = &types.Project{}
	err = s.db.SelectOne(p, `SELECT * FROM "project" WHERE "project_id" = :id`,
		map[string]interface{}{"id": projectID})
	if err == sql.ErrNoRows {
		p, err = nil, errors.Wrapf(ErrNotFound, "project %s", projectID)
	} else if err != nil {
		p, err = nil, errors.Wrapf(err, "get project %s failed", projectID)
	}
	return
}

// Stats returns the projection summary.
func (s *SQLStore) Stats(ctx context.Context) (st *Stats, err error) {
	st = &Stats{}
	err = s.db.Db.QueryRowContext(ctx, `SELECT COUNT(1), `+
		`COALESCE(SUM(CASE WHEN "retired" THEN 1 ELSE 0 END), 0) FROM "credit"`).Scan(&st.Credits, &st.Retired)
	if err == nil {
		err = s.db.Db.QueryRowContext(ctx, `SELECT COUNT(1) FROM "project"`).Scan(&st.Projects)
	}
	if err != nil {
		st, err = nil, errors.Wrap(err, "collect projection stats failed")
	}
	return
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Db.Close()
}
