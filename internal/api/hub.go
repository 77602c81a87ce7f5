package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danmuck/relaychat/internal/hub"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/gin-gonic/gin"
)

// HubQuerier is the read side of a hub contract.
type HubQuerier interface {
	Info(ctx context.Context) (hub.Info, error)
	Channels(ctx context.Context) ([]transport.Channel, error)
}

// LinkLister reports channels that currently have a live connection.
type LinkLister interface {
	Channels() []transport.Channel
}

type HubAPI struct {
	NodeID   string
	Appeared time.Time

	contract HubQuerier
	links    LinkLister
}

func NewHubAPI(nodeID string, contract HubQuerier, links LinkLister) *HubAPI {
	return &HubAPI{
		NodeID:   nodeID,
		Appeared: time.Now(),
		contract: contract,
		links:    links,
	}
}

func (h *HubAPI) RegisterRoutes(routes gin.IRoutes) {
	registerCommon(routes, h.NodeID, "hub", h.Appeared, nil)

	routes.GET("/info", func(c *gin.Context) {
		info, err := h.contract.Info(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	routes.GET("/channels", func(c *gin.Context) {
		channels, err := h.contract.Channels(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		live := []transport.Channel{}
		if h.links != nil {
			live = h.links.Channels()
		}
		c.JSON(http.StatusOK, gin.H{
			"channels": channels,
			"live":     live,
		})
	})
}
