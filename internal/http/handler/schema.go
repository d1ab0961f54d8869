package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"

	"basegraph.app/statetrail/internal/mapper"
)

var (
	webhookSchemaOnce sync.Once
	webhookSchema     *jsonschema.Schema
)

// WebhookSchema serves the JSON Schema of the inbound webhook body.
func WebhookSchema(c *gin.Context) {
	webhookSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{DoNotReference: true}
		webhookSchema = r.Reflect(&mapper.WebhookBody{})
		webhookSchema.Title = "Issue webhook"
	})
	c.JSON(http.StatusOK, webhookSchema)
}
