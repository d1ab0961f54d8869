package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/statetrail/internal/http/handler"
)

var _ = Describe("WebhookSchema", func() {
	It("describes the webhook body", func() {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.GET("/schema/webhook", handler.WebhookSchema)

		req := httptest.NewRequest(http.MethodGet, "/schema/webhook", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))

		var schema map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &schema)).To(Succeed())
		Expect(schema["title"]).To(Equal("Issue webhook"))
		props, ok := schema["properties"].(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(props).To(HaveKey("action"))
		Expect(props).To(HaveKey("data"))
	})
})
