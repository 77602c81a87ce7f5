package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/relaychat/internal/auth"
	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/spoke"
	"github.com/danmuck/relaychat/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SpokeContract is the part of a spoke contract the API drives.
type SpokeContract interface {
	Info(ctx context.Context) (spoke.Info, error)
	Channel(ctx context.Context) (transport.Channel, bool, error)
	Messages(ctx context.Context, after uint64, order chat.Order) ([]chat.LoggedMessage, error)
	SendMessage(ctx context.Context, env transport.Env, author, text string) (chat.LoggedMessage, transport.Response, error)
}

// Submitter hands an action's response to the network link.
type Submitter interface {
	Submit(resp transport.Response) error
}

type SpokeAPI struct {
	NodeID   string
	Appeared time.Time

	contract SpokeContract
	link     Submitter
	auth     auth.Validator
	feed     *Feed
	now      func() time.Time
}

type SendRequest struct {
	Author string `json:"author" binding:"required"`
	Text   string `json:"text" binding:"required"`
}

type SendResponse struct {
	Message chat.LoggedMessage `json:"message"`
	Relayed bool               `json:"relayed"`
}

func NewSpokeAPI(nodeID string, contract SpokeContract, link Submitter, validator auth.Validator, feed *Feed) *SpokeAPI {
	if validator == nil {
		validator = auth.AllowAll{}
	}
	return &SpokeAPI{
		NodeID:   nodeID,
		Appeared: time.Now(),
		contract: contract,
		link:     link,
		auth:     validator,
		feed:     feed,
		now:      time.Now,
	}
}

func (s *SpokeAPI) ready() bool {
	_, ok, err := s.contract.Channel(context.Background())
	return err == nil && ok
}

func (s *SpokeAPI) RegisterRoutes(routes gin.IRoutes) {
	registerCommon(routes, s.NodeID, "spoke", s.Appeared, s.ready)

	routes.GET("/info", func(c *gin.Context) {
		info, err := s.contract.Info(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	routes.GET("/channel", func(c *gin.Context) {
		channel, ok, err := s.contract.Channel(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			respondError(c, http.StatusNotFound, protocol.ErrNoChannel)
			return
		}
		c.JSON(http.StatusOK, channel)
	})

	routes.GET("/messages", func(c *gin.Context) {
		var after uint64
		if raw := c.Query("after"); raw != "" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				respondError(c, http.StatusBadRequest, err)
				return
			}
			after = v
		}
		order, err := chat.ParseOrder(c.Query("order"))
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		msgs, err := s.contract.Messages(c.Request.Context(), after, order)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		if msgs == nil {
			msgs = []chat.LoggedMessage{}
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	})

	routes.POST("/messages", s.requireToken, s.handleSend)

	if s.feed != nil {
		routes.GET("/ws", s.feed.Handler())
	}
}

func (s *SpokeAPI) requireToken(c *gin.Context) {
	token, _ := auth.BearerToken(c.GetHeader("Authorization"))
	if err := s.auth.Validate(token); err != nil {
		respondError(c, http.StatusUnauthorized, err)
		c.Abort()
		return
	}
	c.Next()
}

func (s *SpokeAPI) handleSend(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	logged, resp, err := s.contract.SendMessage(c.Request.Context(), transport.Env{Time: s.now()}, req.Author, req.Text)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, protocol.ErrNoChannel) {
			status = http.StatusConflict
		}
		respondError(c, status, err)
		return
	}
	relayed := true
	if s.link != nil {
		if err := s.link.Submit(resp); err != nil {
			relayed = false
			log.Warn().Err(err).Uint64("local_id", logged.LocalID).Msg("api.SpokeAPI.handleSend relay failed")
		}
	} else if s.feed != nil {
		s.feed.HandleEvents(resp.Events)
	}
	c.JSON(http.StatusOK, SendResponse{Message: logged, Relayed: relayed})
}
