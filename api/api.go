// Package api exposes the HTTP control surface: starting invoice processing
// and polling instance status.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v3"

	"github.com/learn-automated-testing/invoiceflow/backend"
	"github.com/learn-automated-testing/invoiceflow/client"
	"github.com/learn-automated-testing/invoiceflow/invoice"
)

const statusCacheTTL = 5 * time.Minute

type API struct {
	client *client.Client

	logger *slog.Logger

	// Terminal statuses are immutable, so they can be cached for pollers
	// without a staleness risk.
	statusCache *ttlcache.Cache[string, *backend.InstanceStatus]
}

func New(c *client.Client, logger *slog.Logger) *API {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *backend.InstanceStatus](statusCacheTTL),
	)
	go cache.Start()

	return &API{
		client:      c,
		logger:      logger,
		statusCache: cache,
	}
}

// Router builds the gin router with all control endpoints mounted.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/invoice/start", a.startInvoice)
	r.GET("/orchestrators/status/:instanceId", a.getStatus)
	r.GET("/healthz", a.healthz)

	return r
}

func (a *API) Close() {
	a.statusCache.Stop()
}

type startResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	StatusQueryGetURI string `json:"statusQueryGetUri"`
}

func (a *API) startInvoice(c *gin.Context) {
	var input invoice.StartInput

	// A malformed or empty body selects the default invoice instead of
	// rejecting the request.
	body, err := io.ReadAll(c.Request.Body)
	if err == nil && len(body) > 0 {
		_ = json.Unmarshal(body, &input)
	}

	instance, err := a.client.CreateInstance(c.Request.Context(), client.InstanceOptions{}, invoice.WorkflowName, input)
	if err != nil {
		a.logger.ErrorContext(c.Request.Context(), "starting invoice processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start invoice processing"})
		return
	}

	a.logger.InfoContext(c.Request.Context(), "started invoice processing",
		"instance_id", instance.InstanceID,
		"customer_id", input.CustomerID,
	)

	c.JSON(http.StatusAccepted, startResponse{
		ID:                instance.InstanceID,
		Status:            "Running",
		StatusQueryGetURI: "/orchestrators/status/" + instance.InstanceID,
	})
}

func (a *API) getStatus(c *gin.Context) {
	instanceID := c.Param("instanceId")

	if item := a.statusCache.Get(instanceID); item != nil {
		c.JSON(http.StatusOK, item.Value())
		return
	}

	status, err := a.client.GetInstanceStatus(c.Request.Context(), instanceID)
	if err != nil {
		if errors.Is(err, backend.ErrInstanceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": fmt.Sprintf("no invoice processing found with ID %q", instanceID),
			})
			return
		}

		a.logger.ErrorContext(c.Request.Context(), "status lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read instance status"})
		return
	}

	if status.RuntimeStatus.Finished() {
		a.statusCache.Set(instanceID, status, ttlcache.DefaultTTL)
	}

	c.JSON(http.StatusOK, status)
}

func (a *API) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
