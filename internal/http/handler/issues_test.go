package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/statetrail/internal/http/handler"
	"basegraph.app/statetrail/internal/model"
)

var _ = Describe("IssueHandler", func() {
	var (
		router *gin.Engine
		svc    *mockIssueQueryService
		t0     time.Time
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		router = gin.New()
		svc = &mockIssueQueryService{}
		h := handler.NewIssueHandler(svc)
		group := router.Group("/issues")
		group.GET("", h.List)
		group.GET("/state/*state", h.ListByState)
		group.GET("/:identifier", h.Get)
		group.GET("/:identifier/transitions", h.Transitions)
	})

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("lists issues with a count", func() {
		svc.listFn = func(context.Context) ([]model.IssueRecord, error) {
			return []model.IssueRecord{{Identifier: "ENG-1", StateHistory: model.StateHistory{"Todo": t0}}}, nil
		}
		w := get("/issues")
		Expect(w.Code).To(Equal(http.StatusOK))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["status"]).To(Equal("success"))
		Expect(resp["count"]).To(BeEquivalentTo(1))
	})

	It("returns one issue by identifier", func() {
		svc.getFn = func(_ context.Context, identifier string) (*model.IssueRecord, error) {
			return &model.IssueRecord{Identifier: identifier, CurrentState: "Todo"}, nil
		}
		w := get("/issues/ENG-7")
		Expect(w.Code).To(Equal(http.StatusOK))

		var resp struct {
			Issue model.IssueRecord `json:"issue"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Issue.Identifier).To(Equal("ENG-7"))
	})

	It("returns 404 for an unknown identifier", func() {
		Expect(get("/issues/NOPE-1").Code).To(Equal(http.StatusNotFound))
		Expect(get("/issues/NOPE-1/transitions").Code).To(Equal(http.StatusNotFound))
	})

	It("passes the state path segment through unchanged", func() {
		var got string
		svc.listByStateFn = func(_ context.Context, state string) ([]model.IssueRecord, error) {
			got = state
			return []model.IssueRecord{}, nil
		}
		w := get("/issues/state/In%20Master")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(got).To(Equal("In Master"))
	})

	It("keeps slashes and trailing spaces in state names", func() {
		var got []string
		svc.listByStateFn = func(_ context.Context, state string) ([]model.IssueRecord, error) {
			got = append(got, state)
			return []model.IssueRecord{}, nil
		}
		Expect(get("/issues/state/QA%2FReview").Code).To(Equal(http.StatusOK))
		Expect(get("/issues/state/QA/Review").Code).To(Equal(http.StatusOK))
		Expect(get("/issues/state/In%20Master%20").Code).To(Equal(http.StatusOK))
		Expect(got).To(Equal([]string{"QA/Review", "QA/Review", "In Master "}))
	})

	It("returns 400 for an empty state", func() {
		Expect(get("/issues/state/").Code).To(Equal(http.StatusBadRequest))
	})

	It("returns the transition log", func() {
		svc.transitionsFn = func(_ context.Context, identifier string) ([]model.StateTransition, error) {
			return []model.StateTransition{{ID: 1, Identifier: identifier, ToState: "Todo", OccurredAt: t0}}, nil
		}
		w := get("/issues/ENG-1/transitions")
		Expect(w.Code).To(Equal(http.StatusOK))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["count"]).To(BeEquivalentTo(1))
		Expect(resp["identifier"]).To(Equal("ENG-1"))
	})

	It("returns 500 when listing fails", func() {
		svc.listFn = func(context.Context) ([]model.IssueRecord, error) { return nil, errors.New("boom") }
		Expect(get("/issues").Code).To(Equal(http.StatusInternalServerError))
	})
})
