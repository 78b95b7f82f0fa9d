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


package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/ledger/ledgertest"
	"github.com/CovenantSQL/creditsync/normalizer"
	"github.com/CovenantSQL/creditsync/projection"
	"github.com/CovenantSQL/creditsync/reconcile"
	"github.com/CovenantSQL/creditsync/registry"
)

const testKey = "s3cret"

var holder = common.HexToAddress("0x0000000000000000000000000000000000000aaa")

type envelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	ledger  *ledgertest.Ledger
	store   *projection.SQLStore
	handler http.Handler
}

func newTestServer() (s *testServer, err error) {
	gin.SetMode(gin.TestMode)

	s = &testServer{ledger: ledgertest.New()}
	if s.store, err = projection.Open(""); err != nil {
		return
	}
	engine, err := reconcile.NewEngine(reconcile.Config{}, s.store, s.ledger, normalizer.New(s.ledger.Codec()))
	if err != nil {
		return
	}
	svc := registry.NewService(testKey, s.ledger, engine, s.store)
	s.handler = NewServer("127.0.0.1:0", svc, reconcile.NewSyncer(engine)).Handler
	return
}

func (s *testServer) close() {
	s.ledger.Close()
	_ = s.store.Close()
}

func (s *testServer) do(method, path, key, body string) (code int, resp *envelope, header http.Header) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(headerAPIKey, key)
	}

	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	resp = &envelope{}
	if err := json.Unmarshal(w.Body.Bytes(), resp); err != nil {
		resp.Msg = w.Body.String()
	}
	return w.Code, resp, w.Header()
}

func mintBody(to string) string {
	return `{"toAddress":"` + to + `","projectId":"P1","location":"Borneo","verificationId":"V1"}`
}

func TestCreditRoutes(t *testing.T) {
	Convey("Given the registry http server", t, func() {
		s, err := newTestServer()
		So(err, ShouldBeNil)
		Reset(s.close)

		Convey("The banner should carry a request id", func() {
			code, resp, header := s.do(http.MethodGet, "/", "", "")
			So(code, ShouldEqual, http.StatusOK)
			So(resp.Success, ShouldBeTrue)
			So(header.Get(headerRequestID), ShouldNotBeEmpty)

			_, _, header = s.do(http.MethodGet, "/", "", "")
			So(header.Get(headerRequestID), ShouldNotBeEmpty)
		})

		Convey("Minting without the api key should be forbidden before reaching the ledger", func() {
			code, resp, _ := s.do(http.MethodPost, "/v1/credits/mint", "", mintBody(holder.Hex()))
			So(code, ShouldEqual, http.StatusForbidden)
			So(resp.Success, ShouldBeFalse)
			So(resp.Msg, ShouldEqual, ErrForbidden.Error())

			code, _, _ = s.do(http.MethodPost, "/v1/credits/mint", "wrong", mintBody(holder.Hex()))
			So(code, ShouldEqual, http.StatusForbidden)
			So(s.ledger.SubmitCount(), ShouldEqual, 0)
		})

		Convey("Malformed mint requests should be rejected before reaching the ledger", func() {
			code, resp, _ := s.do(http.MethodPost, "/v1/credits/mint", testKey, "{")
			So(code, ShouldEqual, http.StatusBadRequest)
			So(resp.Msg, ShouldContainSubstring, ErrInvalidRequest.Error())

			code, resp, _ = s.do(http.MethodPost, "/v1/credits/mint", testKey, mintBody("0xAAA"))
			So(code, ShouldEqual, http.StatusBadRequest)
			So(resp.Msg, ShouldEqual, ErrInvalidRequest.Error())
			So(s.ledger.SubmitCount(), ShouldEqual, 0)
		})

		Convey("A minted credit should be readable and in sync", func() {
			code, resp, _ := s.do(http.MethodPost, "/v1/credits/mint", testKey, mintBody(holder.Hex()))
			So(code, ShouldEqual, http.StatusOK)
			So(resp.Success, ShouldBeTrue)

			var issued registry.IssueResult
			So(json.Unmarshal(resp.Data, &issued), ShouldBeNil)
			So(issued.TokenID, ShouldEqual, "1")
			So(issued.TxHash, ShouldNotBeEmpty)

			code, resp, _ = s.do(http.MethodGet, "/v1/credits/1", "", "")
			So(code, ShouldEqual, http.StatusOK)

			var view struct {
				TokenID  string `json:"tokenId"`
				InSync   bool   `json:"inSync"`
				OffChain struct {
					Owner    string `json:"owner"`
					Location string `json:"location"`
				} `json:"offchain"`
			}
			So(json.Unmarshal(resp.Data, &view), ShouldBeNil)
			So(view.TokenID, ShouldEqual, "1")
			So(view.InSync, ShouldBeTrue)
			So(view.OffChain.Location, ShouldEqual, "Borneo")

			Convey("and retiring it twice should be rejected by the ledger the second time", func() {
				code, _, _ := s.do(http.MethodPost, "/v1/credits/retire", testKey, `{"tokenId":"1"}`)
				So(code, ShouldEqual, http.StatusOK)

				code, resp, _ := s.do(http.MethodPost, "/v1/credits/retire", testKey, `{"tokenId":"1"}`)
				So(code, ShouldEqual, http.StatusBadGateway)
				So(resp.Msg, ShouldEqual, ErrSubmissionRejected.Error())
			})

			Convey("and a transient ledger failure should be reported as retryable", func() {
				s.ledger.FailSubmits(true)
				code, resp, _ := s.do(http.MethodPost, "/v1/credits/retire", testKey, `{"tokenId":"1"}`)
				So(code, ShouldEqual, http.StatusServiceUnavailable)
				So(resp.Msg, ShouldEqual, ErrSubmissionRetryable.Error())
			})
		})

		Convey("Unknown and malformed token ids should be distinguished", func() {
			code, resp, _ := s.do(http.MethodGet, "/v1/credits/99", "", "")
			So(code, ShouldEqual, http.StatusNotFound)
			So(resp.Msg, ShouldEqual, ErrNotFound.Error())

			code, _, _ = s.do(http.MethodGet, "/v1/credits/abc", "", "")
			So(code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestProjectRoutes(t *testing.T) {
	Convey("Given the registry http server", t, func() {
		s, err := newTestServer()
		So(err, ShouldBeNil)
		Reset(s.close)

		body := `{"projectId":"P1","name":"Mangrove restoration","lat":1.5,"lon":110.2}`

		Convey("A project should be registered once", func() {
			code, _, _ := s.do(http.MethodPost, "/v1/projects", "", body)
			So(code, ShouldEqual, http.StatusForbidden)

			code, resp, _ := s.do(http.MethodPost, "/v1/projects", testKey, body)
			So(code, ShouldEqual, http.StatusOK)
			So(resp.Success, ShouldBeTrue)

			code, _, _ = s.do(http.MethodPost, "/v1/projects", testKey, body)
			So(code, ShouldEqual, http.StatusBadRequest)

			code, resp, _ = s.do(http.MethodGet, "/v1/projects/P1", "", "")
			So(code, ShouldEqual, http.StatusOK)

			var p struct {
				Name string `json:"name"`
			}
			So(json.Unmarshal(resp.Data, &p), ShouldBeNil)
			So(p.Name, ShouldEqual, "Mangrove restoration")
		})

		Convey("An invalid project should be rejected", func() {
			code, _, _ := s.do(http.MethodPost, "/v1/projects", testKey, `{"projectId":"P2","name":"x","lat":120}`)
			So(code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("An unknown project should not be found", func() {
			code, _, _ := s.do(http.MethodGet, "/v1/projects/nope", "", "")
			So(code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestSyncRoutes(t *testing.T) {
	Convey("Given the registry http server with issued credits", t, func() {
		s, err := newTestServer()
		So(err, ShouldBeNil)
		Reset(s.close)

		s.ledger.Issue(holder, "P1", "", "V1")
		s.ledger.Issue(holder, "P1", "", "V2")

		Convey("The status should report an unset cursor before any pass", func() {
			code, resp, _ := s.do(http.MethodGet, "/v1/sync/status", "", "")
			So(code, ShouldEqual, http.StatusOK)

			var st struct {
				Status struct {
					CursorSet bool `json:"cursorSet"`
				} `json:"status"`
				Running bool `json:"running"`
			}
			So(json.Unmarshal(resp.Data, &st), ShouldBeNil)
			So(st.Status.CursorSet, ShouldBeFalse)
			So(st.Running, ShouldBeFalse)
		})

		Convey("A manual backfill should require the api key", func() {
			code, _, _ := s.do(http.MethodPost, "/v1/sync/backfill", "", "")
			So(code, ShouldEqual, http.StatusForbidden)
		})

		Convey("A manual backfill without a range should catch up to the head", func() {
			code, resp, _ := s.do(http.MethodPost, "/v1/sync/backfill", testKey, "")
			So(code, ShouldEqual, http.StatusOK)

			var r reconcile.BackfillResult
			So(json.Unmarshal(resp.Data, &r), ShouldBeNil)
			So(r.Applied, ShouldEqual, 2)
			So(r.Cursor, ShouldEqual, 2)

			code, _, _ = s.do(http.MethodGet, "/v1/credits/2", "", "")
			So(code, ShouldEqual, http.StatusOK)

			code, resp, _ = s.do(http.MethodGet, "/v1/sync/status", "", "")
			So(code, ShouldEqual, http.StatusOK)
			So(string(resp.Data), ShouldContainSubstring, `"cursorSet":true`)
		})

		Convey("An inverted explicit range should be rejected", func() {
			code, resp, _ := s.do(http.MethodPost, "/v1/sync/backfill", testKey, `{"fromBlock":5,"toBlock":1}`)
			So(code, ShouldEqual, http.StatusBadRequest)
			So(resp.Msg, ShouldEqual, ErrInvalidRequest.Error())
		})

		Convey("An unreachable ledger should be reported as unavailable", func() {
			s.ledger.FailQueries(true)
			code, resp, _ := s.do(http.MethodPost, "/v1/sync/backfill", testKey, `{"fromBlock":0,"toBlock":2}`)
			So(code, ShouldEqual, http.StatusServiceUnavailable)
			So(resp.Msg, ShouldEqual, ErrLedgerUnavailable.Error())
		})
	})
}

func TestErrorStatus(t *testing.T) {
	Convey("Service errors should map to http status codes", t, func() {
		cases := []struct {
			err  error
			code int
			api  error
		}{
			{errors.Wrap(registry.ErrForbidden, "key"), http.StatusForbidden, ErrForbidden},
			{errors.Wrap(registry.ErrInvalidRequest, "field"), http.StatusBadRequest, ErrInvalidRequest},
			{errors.Wrap(registry.ErrNotFound, "credit 9"), http.StatusNotFound, ErrNotFound},
			{reconcile.ErrBackfillRunning, http.StatusConflict, ErrBackfillRunning},
			{errors.Wrap(ledger.ErrGatewayUnavailable, "dial"), http.StatusServiceUnavailable, ErrLedgerUnavailable},
			{&ledger.SubmissionError{Retryable: true, Err: errors.New("timeout")}, http.StatusServiceUnavailable, ErrSubmissionRetryable},
			{&ledger.SubmissionError{Err: ledger.ErrTxReverted}, http.StatusBadGateway, ErrSubmissionRejected},
			{errors.New("disk full"), http.StatusInternalServerError, ErrInternal},
		}

		for _, c := range cases {
			code, apiErr := errorStatus(c.err)
			So(code, ShouldEqual, c.code)
			So(apiErr, ShouldEqual, c.api)
		}
	})
}
